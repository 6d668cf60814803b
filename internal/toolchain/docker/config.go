package docker

import (
	"time"

	"github.com/sakif/tsbox/internal/config"
)

// Config holds the configuration for containerised toolchain runs.
type Config struct {
	// Image must ship node, npm and npx.
	Image string
	// MemoryLimit is the maximum amount of memory a container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// NetworkMode is passed to the container ("none" blocks npm install,
	// which then falls back to the shared dependency link).
	NetworkMode string
	// User runs the exec'd commands; empty uses the image default.
	User string
	// Mounts are host directories bind-mounted at the same path inside every
	// container, so workspace paths and node_modules symlinks resolve
	// identically on both sides. Mounts marked ReadOnly are mounted ":ro".
	Mounts []Mount
}

// Mount is one host directory shared with the containers.
type Mount struct {
	Path     string
	ReadOnly bool
}

// DefaultConfig provides sensible defaults for a Node.js toolchain container.
func DefaultConfig() Config {
	return Config{
		Image:       "node:22-alpine",
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1,
		PoolSize:    2,
		NetworkMode: "none",
	}
}

// FromAppConfig builds a Config from the process configuration. The temp
// root is mounted read-write (sessions write into it); the shared
// node_modules directory read-only.
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		Image:       cfg.Docker.Image,
		MemoryLimit: cfg.Docker.MemoryLimit,
		CPULimit:    cfg.Docker.CPULimit,
		PoolSize:    cfg.Docker.PoolSize,
		NetworkMode: cfg.Docker.Network,
		User:        cfg.Docker.User,
		Mounts: []Mount{
			{Path: cfg.Sandbox.TempDir},
			{Path: cfg.Sandbox.NodeModules, ReadOnly: true},
		},
	}
}

// containerTimeout bounds container create/start/remove calls.
const containerTimeout = 10 * time.Second
