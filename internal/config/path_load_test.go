package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrefersExplicit(t *testing.T) {
	path, err := ResolvePath("/tmp/visage.conf")
	require.NoError(t, err)
	require.Equal(t, "/tmp/visage.conf", path)
}

func TestResolvePathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	path, err := ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/xdg", "visage", "config.conf"), path)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("VISAGE_TOKEN", "env-token")
	loaded, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)
	require.False(t, loaded.Exists)
	require.Len(t, loaded.Warnings, 1)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Equal(t, Default().Gateway.URL, loaded.Config.Gateway.URL)
	require.Equal(t, "env-token", loaded.Config.Gateway.Token)
}

func TestLoadParsesExistingFile(t *testing.T) {
	t.Setenv("VISAGE_TOKEN", "env-token")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")
	content := `{
  "gateway": { "url": "ws://10.0.0.2:18789", "token": "file-token" },
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "ws://10.0.0.2:18789", loaded.Config.Gateway.URL)
	require.Equal(t, "file-token", loaded.Config.Gateway.Token)
}

func TestLoadPropagatesParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{"gateway": {"url": 42}}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}
