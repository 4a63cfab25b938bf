package download

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissing(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	data := `
data_dir: /tmp/data
stall_timeout: 30s
seed: 42
rpc_enabled: true
rpc_port: 9000
resume_enabled: false
`
	require.NoError(t, os.WriteFile(filename, []byte(data), 0600))

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data", c.DataDir)
	assert.Equal(t, 30*time.Second, c.StallTimeout)
	assert.Equal(t, int64(42), c.Seed)
	assert.True(t, c.RPCEnabled)
	assert.Equal(t, 9000, c.RPCPort)
	assert.False(t, c.ResumeEnabled)

	// Keys that are not in the file keep their defaults.
	assert.Equal(t, DefaultConfig.Database, c.Database)
	assert.Equal(t, DefaultConfig.StallCheckInterval, c.StallCheckInterval)
	assert.Equal(t, DefaultConfig.RPCHost, c.RPCHost)
	assert.True(t, c.VerifyOnStart)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("stall_timeout: [1"), 0600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}

func TestExpandPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()

	c := Config{DataDir: "~/data", Database: "/abs/resume.db"}
	require.NoError(t, c.expandPaths())
	assert.Equal(t, filepath.Join(home, "data"), c.DataDir)
	assert.Equal(t, "/abs/resume.db", c.Database)
}
