package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathAndEnvReturnsDefaults(t *testing.T) {
	os.Unsetenv("QMASTER_CONFIG")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 28800, cfg.Server.GetTCPPort())
	assert.Equal(t, ":9090", cfg.Metrics.GetListen())
	assert.Equal(t, "REGISTRY", cfg.Events.GetStream())
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  tcp_port: 29000
  peer_masters:
    - host: master2.example.org
      port: 28800
auth:
  users_file: auth.json
backup:
  path: servers.backup
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 29000, cfg.Server.GetTCPPort())
	require.Len(t, cfg.Server.PeerMasters, 1)
	assert.Equal(t, "master2.example.org", cfg.Server.PeerMasters[0].Host)
	assert.Equal(t, "auth.json", cfg.Auth.UsersFile)
	assert.Equal(t, "servers.backup", cfg.Backup.Path)
}

func TestGetTCPPortEnvFallback(t *testing.T) {
	os.Setenv("QMASTER_TCP_PORT", "31000")
	defer os.Unsetenv("QMASTER_TCP_PORT")

	var s ServerConfig
	assert.Equal(t, 31000, s.GetTCPPort())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/qmaster.yaml")
	assert.Error(t, err)
}
