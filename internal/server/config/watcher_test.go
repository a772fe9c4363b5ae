package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher_RequiresFile(t *testing.T) {
	var c Config
	c.LoadDefaults()
	_, err := NewWatcher(&c, logging.Nop(), func(*Config) {})
	assert.Error(t, err)
}

func TestWatcher_ReloadKeepsBaseAndValidates(t *testing.T) {
	path := writeFile(t, "gk.yaml", "rate_limit:\n  classes:\n    login: {limit: 5, window: 1m}\n")
	base, err := Load([]string{"-c", path, "-a", ":7777"}, envFrom(nil))
	require.NoError(t, err)

	w, err := NewWatcher(base, logging.Nop(), func(*Config) {})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  classes:\n    login: {limit: 2, window: 10s}\n"), 0o600))
	cfg, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RateLimit.Classes["login"].Limit)
	assert.Equal(t, ":7777", cfg.HTTPAddr, "flag value survives reload")
	assert.Equal(t, 5, base.RateLimit.Classes["login"].Limit, "base config is not mutated")

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  classes:\n    login: {limit: 0, window: 10s}\n"), 0o600))
	_, err = w.Reload()
	assert.ErrorIs(t, err, common.ErrFatalConfig)
}

func TestWatcher_RunInvokesCallbackOnWrite(t *testing.T) {
	path := writeFile(t, "gk.yaml", "log_level: info\n")
	base, err := Load([]string{"-c", path}, envFrom(nil))
	require.NoError(t, err)

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(base, logging.Nop(), func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log_level: debug\n"), 0o600)
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.LogLevel == "debug"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
