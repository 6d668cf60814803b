package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, int64(100<<20), cfg.Sandbox.MemoryLimit)
	assert.Equal(t, 20*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Sandbox.InstallTimeout)
	assert.Equal(t, "local", cfg.Toolchain.Backend)
	assert.True(t, filepath.IsAbs(cfg.Sandbox.TempDir), "temp dir should be absolute")
	assert.True(t, filepath.IsAbs(cfg.Sandbox.NodeModules), "node_modules should be absolute")
	assert.Equal(t, true, cfg.Sandbox.CompilerOptions["esModuleInterop"])
	assert.Contains(t, cfg.Sandbox.JestConfig, "ts-jest")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TSBOX_SERVER_PORT", "8081")
	t.Setenv("TSBOX_SANDBOX_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsbox.yaml")
	content := []byte(`
sandbox:
  temp_dir: /var/tmp/tsbox
  install_timeout: 90s
toolchain:
  backend: docker
docker:
  pool_size: 4
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/tsbox", cfg.Sandbox.TempDir)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.InstallTimeout)
	assert.Equal(t, "docker", cfg.Toolchain.Backend)
	assert.Equal(t, 4, cfg.Docker.PoolSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"TSBOX_TOOLCHAIN_BACKEND": "podman"}},
		{name: "port out of range", env: map[string]string{"TSBOX_SERVER_PORT": "70000"}},
		{name: "zero memory", env: map[string]string{"TSBOX_SANDBOX_MEMORY_LIMIT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
