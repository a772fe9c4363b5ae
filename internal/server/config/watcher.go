package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes and hands the result to
// a callback. Reloaded configs start from the config the process booted with,
// so env and flag values are kept for settings the file does not name.
type Watcher struct {
	path     string
	base     Config
	onChange func(*Config)
	logger   logging.Logger
	debounce time.Duration
}

// NewWatcher watches base.ConfigFile. It fails when the config was not read
// from a file.
func NewWatcher(base *Config, logger logging.Logger, onChange func(*Config)) (*Watcher, error) {
	if base.ConfigFile == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	abs, err := filepath.Abs(base.ConfigFile)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     abs,
		base:     *base,
		onChange: onChange,
		logger:   logger.With("module", "config_watcher"),
		debounce: 200 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done. The parent directory is watched so editors
// that replace the file on save are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Info(ctx, "watching config file", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.Reload()
	if err != nil {
		w.logger.Error(ctx, "config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info(ctx, "config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Reload reads and validates the file once, without invoking the callback.
func (w *Watcher) Reload() (*Config, error) {
	fc, err := ReadFile(w.path)
	if err != nil {
		return nil, fatal(err)
	}
	cfg := w.base
	cfg.ApplyFileConfig(fc)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
