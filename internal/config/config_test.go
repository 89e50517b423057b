package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, ".projmeta", cfg.Store.MetadataDir)
	assert.Equal(t, 100*time.Millisecond, cfg.Store.FlushDelay.Duration())
	assert.Equal(t, 1, cfg.Store.BackupGenerations)
	assert.Equal(t, IDPolicyFail, cfg.Store.IDPolicy)
	assert.Equal(t, 9610, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Telemetry.Enabled) // off by default for users without a collector
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty metadata dir",
			mutate:  func(c *Config) { c.Store.MetadataDir = "" },
			wantErr: "metadata_dir",
		},
		{
			name:    "zero flush delay",
			mutate:  func(c *Config) { c.Store.FlushDelay = 0 },
			wantErr: "flush_delay",
		},
		{
			name:    "negative backup generations",
			mutate:  func(c *Config) { c.Store.BackupGenerations = -1 },
			wantErr: "backup_generations",
		},
		{
			name:    "unknown id policy",
			mutate:  func(c *Config) { c.Store.IDPolicy = "panic" },
			wantErr: "id_policy",
		},
		{
			name:   "regenerate id policy",
			mutate: func(c *Config) { c.Store.IDPolicy = IDPolicyRegenerate },
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "bad logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging format",
		},
		{
			name: "telemetry enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Endpoint = ""
			},
			wantErr: "endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
}

func TestDuration_MarshalText(t *testing.T) {
	d := Duration(5 * time.Second)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5s", string(text))
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8123")
	t.Setenv("STORE_FLUSH_DELAY", "250ms")
	t.Setenv("STORE_ID_POLICY", "regenerate")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.FlushDelay.Duration())
	assert.Equal(t, IDPolicyRegenerate, cfg.Store.IDPolicy)
	// Untouched fields keep defaults.
	assert.Equal(t, ".projmeta", cfg.Store.MetadataDir)
}

func TestLoadWithFile_InvalidEnvValue(t *testing.T) {
	t.Setenv("SERVER_PORT", "0")

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server port")
}

func TestValidateConfigPath(t *testing.T) {
	err := validateConfigPath("/tmp/evil/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in")

	assert.NoError(t, validateConfigPath("/etc/projmeta/config.yaml"))
}
