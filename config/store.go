package config

import (
	"sync"
	"sync/atomic"

	"github.com/donetkit/contrib-log/glog"
)

// Store holds the current Config. Reads are lock free; Update validates the new
// value, swaps it in whole and notifies listeners in registration order.
type Store struct {
	current atomic.Value // *Config

	// updateMu serializes Update so listeners see changes in order
	updateMu  sync.Mutex
	mu        sync.Mutex
	listeners []func(*Config)
	logger    glog.ILoggerEntry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used to report configuration changes.
func WithLogger(logger glog.ILogger) StoreOption {
	return func(s *Store) {
		s.logger = logger.WithField("ConfigStore", "ConfigStore")
	}
}

// NewStore returns a Store holding initial, or Default() when initial is nil.
func NewStore(initial *Config, opts ...StoreOption) *Store {
	if initial == nil {
		initial = Default()
	}
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = glog.New().WithField("ConfigStore", "ConfigStore")
	}
	s.current.Store(initial)
	return s
}

// Load returns the current snapshot. Callers must not modify it.
func (s *Store) Load() *Config {
	return s.current.Load().(*Config)
}

// Update validates cfg and makes it current.
func (s *Store) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		s.logger.Errorf("rejected sampling config: %s", err.Error())
		return err
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	s.current.Store(cfg)
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("sampling config updated")
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnChange registers fn to be called after every successful Update.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
