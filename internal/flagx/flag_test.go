package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	cfg := []string{"-c", "--config"}

	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"separate value", []string{"-c", "conf.json", "-a", "localhost"}, cfg, []string{"-c", "conf.json"}},
		{"joined value", []string{"--config=alt.json", "-a", "localhost"}, cfg, []string{"--config=alt.json"}},
		{"order preserved", []string{"--config=1.json", "-x", "1", "-c", "2.json"}, cfg, []string{"--config=1.json", "-c", "2.json"}},
		{"unknown flags and positionals dropped", []string{"-x", "1", "--y=2", "stats", "a=b"}, cfg, []string{}},
		{"dangling flag", []string{"-c"}, cfg, []string{"-c"}},
		{"next flag is not a value", []string{"-c", "-v"}, cfg, []string{"-c"}},
		{"joined value may start with dash", []string{"--config=--odd.json"}, cfg, []string{"--config=--odd.json"}},
		{"several allowed flags", []string{"-a", ":8080", "-c", "conf.json", "--other", "x"}, []string{"-a", "-c"}, []string{"-a", ":8080", "-c", "conf.json"}},
		{"stops at double dash", []string{"-a", ":1", "--", "-a", ":2"}, []string{"-a"}, []string{"-a", ":1"}},
		{"empty", nil, cfg, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"-c", "/etc/gatekeeper.yaml"}, "/etc/gatekeeper.yaml"},
		{"long", []string{"-config", "/etc/gatekeeper.json"}, "/etc/gatekeeper.json"},
		{"double dash joined", []string{"--config=/tmp/gk.yaml", "-a", ":9"}, "/tmp/gk.yaml"},
		{"last one wins", []string{"-c", "/a.json", "-config", "/b.json"}, "/b.json"},
		{"absent", []string{"-a", ":9", "-i", "5s"}, ""},
		{"no args", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigFileFlag(tt.args))
		})
	}
}
