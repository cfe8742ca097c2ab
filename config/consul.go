package config

import (
	"context"

	"github.com/donetkit/contrib-log/glog"
	"github.com/hashicorp/consul/api"
	"github.com/hashicorp/consul/api/watch"
	"github.com/pkg/errors"
)

// ConsulWatcher keeps a Store in sync with a YAML document stored under a
// consul KV key.
type ConsulWatcher struct {
	client *api.Client
	key    string
	store  *Store
	wp     *watch.Plan
	logger glog.ILoggerEntry
}

// WatchConsul starts a blocking query watch on key. The watch stops when ctx is
// done.
func WatchConsul(ctx context.Context, client *api.Client, key string, store *Store, logger glog.ILogger) (*ConsulWatcher, error) {
	if logger == nil {
		logger = glog.New()
	}
	wp, err := watch.Parse(map[string]interface{}{
		"type": "key",
		"key":  key,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create consul key watch")
	}
	cw := &ConsulWatcher{
		client: client,
		key:    key,
		store:  store,
		wp:     wp,
		logger: logger.WithField("ConsulConfigWatcher", "ConsulConfigWatcher"),
	}
	wp.Handler = cw.handle

	go func() {
		if err := wp.RunWithClientAndHclog(client, nil); err != nil {
			cw.logger.Errorf("consul watch on %s stopped: %s", key, err.Error())
		}
	}()
	go func() {
		<-ctx.Done()
		cw.Stop()
	}()
	return cw, nil
}

// Stop ends the watch.
func (cw *ConsulWatcher) Stop() {
	if !cw.wp.IsStopped() {
		cw.wp.Stop()
	}
}

func (cw *ConsulWatcher) handle(idx uint64, data interface{}) {
	kv, ok := data.(*api.KVPair)
	if !ok || kv == nil {
		// key deleted, keep what we have
		return
	}
	cfg, err := Parse(kv.Value)
	if err != nil {
		cw.logger.Errorf("consul key %s index %d: %s", cw.key, idx, err.Error())
		return
	}
	if err := cw.store.Update(cfg); err != nil {
		return
	}
	cw.logger.Infof("applied sampling config from consul key %s index %d", cw.key, idx)
}
