package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeperctl.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseJson_Overlay(t *testing.T) {
	base := Config{
		ServerEndpointAddr:  "localhost:9090",
		OnlineCheckInterval: 5 * time.Second,
		RequestTimeout:      3 * time.Second,
	}

	tests := []struct {
		name string
		body string
		flag string
		want Config
	}{
		{
			name: "all fields",
			body: `{"server_endpoint_addr":"gk.internal:443","online_check_interval":"30s","request_timeout":"1s"}`,
			flag: "-c",
			want: Config{ServerEndpointAddr: "gk.internal:443", OnlineCheckInterval: 30 * time.Second, RequestTimeout: time.Second},
		},
		{
			name: "partial file keeps the rest",
			body: `{"request_timeout":"750ms"}`,
			flag: "-config",
			want: Config{ServerEndpointAddr: "localhost:9090", OnlineCheckInterval: 5 * time.Second, RequestTimeout: 750 * time.Millisecond},
		},
		{
			name: "integer nanoseconds",
			body: `{"online_check_interval":2000000000}`,
			flag: "-c",
			want: Config{ServerEndpointAddr: "localhost:9090", OnlineCheckInterval: 2 * time.Second, RequestTimeout: 3 * time.Second},
		},
		{
			name: "zero values do not override",
			body: `{"server_endpoint_addr":"","online_check_interval":"0s"}`,
			flag: "-c",
			want: base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			path := writeConfigFile(t, tt.body)
			require.NoError(t, parseJson(&cfg, []string{"-a", "ignored:1", tt.flag, path}))
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestParseJson_NoFlagLeavesConfig(t *testing.T) {
	cfg := Config{ServerEndpointAddr: "defaults:1234"}
	require.NoError(t, parseJson(&cfg, []string{"-a", "other:1"}))
	assert.Equal(t, Config{ServerEndpointAddr: "defaults:1234"}, cfg)
}

func TestParseJson_Errors(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		path := writeConfigFile(t, `{ not json`)
		err := parseJson(&Config{}, []string{"-c", path})
		assert.ErrorContains(t, err, "parse config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeConfigFile(t, `{"request_timeout":"soon"}`)
		assert.Error(t, parseJson(&Config{}, []string{"-c", path}))
	})

	t.Run("missing file", func(t *testing.T) {
		err := parseJson(&Config{}, []string{"-c", filepath.Join(t.TempDir(), "absent.json")})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
