package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg := FromViper(newTestViper(nil))

	assert.Equal(t, "us-east-2", cfg.AWS.Region)
	assert.Equal(t, "highlight-session-data", cfg.Dispatch.Bucket)
	assert.Equal(t, "passwordReplacer", cfg.Dispatch.Function)
	assert.Equal(t, "session-contents-compressed-", cfg.Dispatch.Marker)
	assert.Equal(t, 250, cfg.Dispatch.Workers)
	assert.Equal(t, 1000, cfg.Dispatch.PageSize)
	assert.Equal(t, BackendS3, cfg.Storage.Backend)
	assert.False(t, cfg.Checkpoint.Enabled)
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestFromViperOverrides(t *testing.T) {
	cfg := FromViper(newTestViper(map[string]any{
		"DISPATCH_BUCKET":  "other-bucket",
		"DISPATCH_WORKERS": 8,
		"STORAGE_BACKEND":  "MINIO",
		"STORAGE_ENDPOINT": "localhost:9000",
		"DISPATCH_DRY_RUN": true,
	}))

	assert.Equal(t, "other-bucket", cfg.Dispatch.Bucket)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, BackendMinio, cfg.Storage.Backend)
	assert.True(t, cfg.Dispatch.DryRun)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"empty bucket", map[string]any{"DISPATCH_BUCKET": " "}, "bucket"},
		{"empty function", map[string]any{"DISPATCH_FUNCTION": ""}, "function"},
		{"empty marker", map[string]any{"DISPATCH_MARKER": ""}, "marker"},
		{"zero workers", map[string]any{"DISPATCH_WORKERS": 0}, "workers"},
		{"unknown backend", map[string]any{"STORAGE_BACKEND": "gcs"}, "unknown storage backend"},
		{"minio without endpoint", map[string]any{"STORAGE_BACKEND": "minio"}, "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromViper(newTestViper(tt.overrides)).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLedgerDSN(t *testing.T) {
	cfg := FromViper(newTestViper(nil))
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=passwordreplacer sslmode=disable",
		cfg.Ledger.DSN())

	cfg.Ledger.DatabaseURL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Ledger.DSN())
}
