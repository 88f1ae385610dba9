package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shardkv/shardkv/internal/log"
)

// Watcher reloads Config from its file on every write and republishes
// it to subscribers — used to pick up canonical-address changes
// without a restart.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu          sync.RWMutex
	subscribers map[chan *Config]bool

	stopCh chan struct{}
}

// NewWatcher loads path once and starts watching it for changes.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:        path,
		fsw:         fsw,
		subscribers: make(map[chan *Config]bool),
		stopCh:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Subscribe returns a channel that receives every successfully
// reloaded Config.
func (w *Watcher) Subscribe() chan *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan *Config, 1)
	w.subscribers[ch] = true
	return ch
}

// Unsubscribe removes and closes a subscription.
func (w *Watcher) Unsubscribe(ch chan *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subscribers[ch] {
		delete(w.subscribers, ch)
		close(ch)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	logger := log.WithComponent("config")
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn().Err(err).Str("path", w.path).Msg("config reload failed")
				continue
			}
			w.broadcast(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watch error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) broadcast(cfg *Config) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for ch := range w.subscribers {
		select {
		case ch <- cfg:
		default:
		}
	}
}
