package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nstorage_backend: memory\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(path, []byte("port: 9100\nstorage_backend: memory\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9100, cfg.Port)
	case <-time.After(10 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatchKeepsOldConfigOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nstorage_backend: memory\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w := Watch(path, func(cfg *Config) { reloaded <- cfg })
	t.Cleanup(w.Stop)

	// An invalid config must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0o644))
	select {
	case cfg := <-reloaded:
		t.Fatalf("callback fired for invalid config: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("port: 9200\nstorage_backend: memory\n"), 0o644))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9200, cfg.Port)
	case <-time.After(10 * time.Second):
		t.Fatal("recovery after invalid config was not observed")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage_backend: memory\n"), 0o644))

	w := Watch(path, nil)
	w.Stop()
	w.Stop()
}
