package main

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/highlight-run/passwordreplacer/internal/config"
)

func testConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)
	return config.FromViper(v)
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfg := testConfig()
	app := newApp(cfg)

	var args []string
	app.Action = func(c *cli.Context) error {
		args = c.Args().Slice()
		return nil
	}

	err := app.Run([]string{"passwordreplacer", "--workers", "8", "--bucket", "other", "--dry-run", "12/", "tok"})
	require.NoError(t, err)

	assert.Equal(t, []string{"12/", "tok"}, args)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, "other", cfg.Dispatch.Bucket)
	assert.True(t, cfg.Dispatch.DryRun)
	assert.Equal(t, "passwordReplacer", cfg.Dispatch.Function)
	assert.Equal(t, "session-contents-compressed-", cfg.Dispatch.Marker)
}

func TestStorageBackendFlagIsCaseInsensitive(t *testing.T) {
	cfg := testConfig()
	app := newApp(cfg)
	app.Action = func(*cli.Context) error {
		return cfg.Validate()
	}

	require.NoError(t, app.Run([]string{"passwordreplacer", "--storage-backend", " S3 ", "12/"}))
	assert.Equal(t, config.BackendS3, cfg.Storage.Backend)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing prefix", []string{"passwordreplacer"}},
		{"too many args", []string{"passwordreplacer", "a", "b", "c"}},
		{"invalid config", []string{"passwordreplacer", "--workers", "0", "12/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(testConfig())
			app.ExitErrHandler = func(*cli.Context, error) {}

			err := app.Run(tt.args)
			require.Error(t, err)

			var exitErr cli.ExitCoder
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, 2, exitErr.ExitCode())
		})
	}
}
