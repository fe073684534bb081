package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, 150, c.Progress.RefreshMS)
	assert.Equal(t, 256, c.Progress.QueueSize)
	assert.Equal(t, "transfers.sqlite3", c.Sqlite.Dsn)
	assert.Equal(t, "netprogress_", c.Sqlite.Prefix)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, []string{"console"}, c.Log.Writer)
	assert.Equal(t, "127.0.0.1:8765", c.API.Listen)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), c)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
progress:
  refreshMS: 50
log:
  level: debug
  writer: [console, file]
api:
  listen: ":9000"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, c.Progress.RefreshMS)
	assert.Equal(t, 256, c.Progress.QueueSize, "未覆盖的项保留默认值")
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{"console", "file"}, c.Log.Writer)
	assert.Equal(t, ":9000", c.API.Listen)
	assert.Equal(t, "transfers.sqlite3", c.Sqlite.Dsn)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("progress: [notamap"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
