package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFramedValid(t *testing.T) {
	path := writeTempConfig(t, `{
		"transport": "framed",
		"port": 8080,
		"host": "127.0.0.1",
		"mcpClients": {
			"calc": {"type": "child", "command": "calc-server"},
			"github": {"type": "streamed", "url": "https://api.example.com/mcp", "allowedTools": ["search"]}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportFramed, cfg.Transport)
	assert.Equal(t, 8080, cfg.Port)

	calc := cfg.MCPClients["calc"]
	require.NotNil(t, calc)
	assert.True(t, calc.IsChild())

	gh := cfg.MCPClients["github"]
	require.NotNil(t, gh)
	assert.True(t, gh.IsStreamed())
	tools, ok := gh.Allowlist()
	require.True(t, ok)
	assert.Equal(t, []string{"search"}, tools)
}

func TestLoadFramedRequiresPortAndHost(t *testing.T) {
	path := writeTempConfig(t, `{"transport": "framed", "mcpClients": {}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadStreamDoesNotRequirePort(t *testing.T) {
	path := writeTempConfig(t, `{"transport": "stream", "mcpClients": {}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportStream, cfg.Transport)
}

func TestDefaultTransportIsFramed(t *testing.T) {
	path := writeTempConfig(t, `{"port": 9090, "host": "0.0.0.0", "mcpClients": {}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportFramed, cfg.Transport)
}

func TestAllowedToolsAbsentVsEmpty(t *testing.T) {
	path := writeTempConfig(t, `{
		"transport": "stream",
		"mcpClients": {
			"a": {"type": "child", "command": "x"},
			"b": {"type": "child", "command": "x", "allowedTools": []}
		}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, ok := cfg.MCPClients["a"].Allowlist()
	assert.False(t, ok, "absent allowedTools must mean pass-through")

	tools, ok := cfg.MCPClients["b"].Allowlist()
	assert.True(t, ok)
	assert.Empty(t, tools, "empty allowedTools must mean block everything")
}

func TestInvalidPeerType(t *testing.T) {
	path := writeTempConfig(t, `{"transport": "stream", "mcpClients": {"x": {"type": "bogus"}}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestInvalidPeerName(t *testing.T) {
	path := writeTempConfig(t, `{"transport": "stream", "mcpClients": {"bad name": {"type": "child", "command": "x"}}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesPortAndHost(t *testing.T) {
	path := writeTempConfig(t, `{"transport": "framed", "port": 1111, "host": "1.2.3.4", "mcpClients": {}}`)
	t.Setenv("PORT", "2222")
	t.Setenv("HOST", "0.0.0.0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
}
