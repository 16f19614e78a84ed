package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/config"
	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/publisher"
	"github.com/JakeFAU/feeddigest/internal/state"
	"github.com/JakeFAU/feeddigest/internal/storage/postgres"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Provider = config.StorageMemory
	return cfg
}

// Tests below are not parallel: NewApp installs the global tracer provider.

func TestNewAppMemoryStorage(t *testing.T) {
	a, err := NewApp(context.Background(), baseConfig(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Pipeline)
	require.NotNil(t, a.Metrics)
	assert.IsType(t, publisher.Nop{}, a.Publisher)
	assert.IsType(t, &state.BlobRepository{}, a.State)

	_, err = a.Pipeline.LoadRaw(context.Background())
	require.Error(t, err, "fresh memory store has no raw artifact")
}

func TestNewAppLocalStorageWithPrefix(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Provider = config.StorageLocal
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Storage.Prefix = "daily"

	a, err := NewApp(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.State.SaveSeen(context.Background(), feed.SeenStore{}))
	_, err = os.Stat(filepath.Join(cfg.Storage.BaseDir, "daily", "seen-guids.json"))
	require.NoError(t, err)
}

func TestNewAppPostgresStateIsLazy(t *testing.T) {
	cfg := baseConfig(t)
	cfg.State.Provider = config.StatePostgres
	cfg.DB.DSN = "postgres://digest@127.0.0.1:1/digest?connect_timeout=1"

	a, err := NewApp(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.IsType(t, &postgres.StateStore{}, a.State)
	a.Close()
}

func TestNewAppErrors(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"invalid config", func(c *config.Config) { c.Fetch.Concurrency = 0 }, "fetch.concurrency"},
		{"bad dsn", func(c *config.Config) {
			c.State.Provider = config.StatePostgres
			c.DB.DSN = "postgres://digest@localhost:notaport/db"
		}, "failed to initialize state"},
		{"bad table", func(c *config.Config) {
			c.State.Provider = config.StatePostgres
			c.DB.DSN = "postgres://digest@localhost/db"
			c.DB.HealthTable = "health; drop"
		}, "invalid table name"},
		{"base dir is a file", func(c *config.Config) {
			c.Storage.Provider = config.StorageLocal
			c.Storage.BaseDir = notADir
		}, "failed to initialize storage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tt.mutate(&cfg)
			a, err := NewApp(context.Background(), cfg, WithLogger(zap.NewNop()))
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	var order []int
	a := &App{
		Logger: zap.NewNop(),
		closers: []func() error{
			func() error { order = append(order, 1); return nil },
			func() error { order = append(order, 2); return errors.New("boom") },
		},
	}
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
	assert.Nil(t, a.closers)

	var nilApp *App
	assert.NotPanics(t, nilApp.Close)
}

func TestWriteMetrics(t *testing.T) {
	cfg := baseConfig(t)
	a, err := NewApp(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.WriteMetrics(), "no textfile configured")

	a.Config.Metrics.Textfile = filepath.Join(t.TempDir(), "feeddigest.prom")
	require.NoError(t, a.WriteMetrics())
	data, err := os.ReadFile(a.Config.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "feeddigest_")
}
