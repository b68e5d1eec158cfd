package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads config.toml whenever it changes on disk and hands the
// freshly parsed Config to the registered callback. Used by the serve path to
// pick up ranking-weight and budget changes without a restart.
type Watcher struct {
	cfger   *Configer
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
}

// NewWatcher starts watching the Configer's target file. The onChange
// callback runs on the watcher goroutine; it must not block for long.
func NewWatcher(cfger *Configer, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	target := cfger.GetTarget()
	if target == "" {
		return nil, fmt.Errorf("no config file to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config dir: %w", err)
	}

	w := &Watcher{
		cfger:   cfger,
		watcher: fsw,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go w.loop(target, onChange)

	return w, nil
}

func (w *Watcher) loop(target string, onChange func(*Config)) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}

			cfg, err := w.cfger.LoadConfig()
			if err != nil {
				w.logger.Warn("config reload failed",
					zap.String("path", target),
					zap.Error(err),
				)
				continue
			}

			w.logger.Info("config reloaded", zap.String("path", target))
			onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
