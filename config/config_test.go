package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND", BackendMemory)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "contractmatch")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "contractmatch", cfg.ProjectID)
	assert.Equal(t, LogTargetStdout, cfg.LogTarget)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(5<<20), cfg.MaxPhotoBytes)
	assert.Equal(t, 25*time.Second, cfg.StreamHeartbeat)
}

func TestLoadPort(t *testing.T) {
	t.Setenv("BACKEND", BackendMemory)
	t.Setenv("PORT", "9090")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := Config{
		ProjectID:          "p",
		Backend:            BackendFirestore,
		LogTarget:          LogTargetStdout,
		ResolveConcurrency: 1,
		MaxPhotoBytes:      1,
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "firestore without project", mutate: func(c *Config) { c.ProjectID = "" }, wantErr: true},
		{name: "memory without project", mutate: func(c *Config) { c.ProjectID = ""; c.Backend = BackendMemory }},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "redis" }, wantErr: true},
		{name: "cloud logging without project", mutate: func(c *Config) { c.ProjectID = ""; c.Backend = BackendMemory; c.LogTarget = LogTargetCloud }, wantErr: true},
		{name: "unknown log target", mutate: func(c *Config) { c.LogTarget = "file" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.ResolveConcurrency = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
