package config

import (
	"context"
	"path/filepath"

	"github.com/donetkit/contrib-log/glog"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// FileWatcher reloads a YAML file into a Store whenever it changes.
type FileWatcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	logger  glog.ILoggerEntry
}

// WatchFile loads path into store and keeps reloading it until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func WatchFile(ctx context.Context, path string, store *Store, logger glog.ILogger) (*FileWatcher, error) {
	if logger == nil {
		logger = glog.New()
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := store.Update(cfg); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create config file watcher")
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}
	fw := &FileWatcher{
		path:    filepath.Clean(path),
		store:   store,
		watcher: w,
		logger:  logger.WithField("ConfigFileWatcher", "ConfigFileWatcher"),
	}
	go fw.run(ctx)
	return fw, nil
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer fw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fw.reload()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Errorf("config file watcher: %s", err.Error())
		}
	}
}

func (fw *FileWatcher) reload() {
	cfg, err := LoadFile(fw.path)
	if err != nil {
		// keep the previous config, a half written file is retried on the next event
		fw.logger.Errorf("reload %s: %s", fw.path, err.Error())
		return
	}
	if err := fw.store.Update(cfg); err != nil {
		return
	}
	fw.logger.Infof("reloaded %s", fw.path)
}
