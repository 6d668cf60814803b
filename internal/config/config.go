// Package config loads process-wide settings for the sandbox service.
//
// WHY A STRUCT INSTEAD OF GLOBALS?
// Every path and limit the pipeline needs (temp root, shared node_modules,
// timeouts) lives in one Config value that main builds once and hands to the
// constructors that need it. No stage reads environment variables on its own,
// and no stage writes them: the session directory travels explicitly down the
// call chain.
//
// SOURCES (lowest to highest precedence):
//  1. Defaults below (match the service's historical behaviour)
//  2. tsbox.yaml in "." or "$HOME/.tsbox" (optional)
//  3. TSBOX_* environment variables, e.g. TSBOX_SERVER_PORT=8080
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultJestConfig is written to jest.config.js in every workspace.
const DefaultJestConfig = `module.exports = {
  preset: 'ts-jest',
  testEnvironment: 'node',
  testMatch: ['**/*.test.ts'],
  transform: {
    '^.+\\.tsx?$': ['ts-jest', {
      tsconfig: {
        allowJs: true,
        esModuleInterop: true,
        module: "commonjs"
      }
    }]
  },
  moduleFileExtensions: ['ts', 'tsx', 'js', 'jsx', 'json', 'node'],
  transformIgnorePatterns: ['/node_modules/(?!(lodash|moment)/)']
};`

type ServerConfig struct {
	Port              int   `mapstructure:"port" yaml:"port"`
	BodyLimit         int64 `mapstructure:"body_limit" yaml:"body_limit"`
	CleanupOnShutdown bool  `mapstructure:"cleanup_on_shutdown" yaml:"cleanup_on_shutdown"`
}

type SandboxConfig struct {
	// TempDir is the shared root under which every session directory lives.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
	// NodeModules is the process-wide shared dependency directory.
	// Sessions link to it and never write into it.
	NodeModules     string         `mapstructure:"node_modules" yaml:"node_modules"`
	MemoryLimit     int64          `mapstructure:"memory_limit" yaml:"memory_limit"`
	Timeout         time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	InstallTimeout  time.Duration  `mapstructure:"install_timeout" yaml:"install_timeout"`
	// CompilerOptions is not read through viper: viper folds map keys to
	// lower case and tsconfig option names are case sensitive.
	CompilerOptions map[string]any `mapstructure:"-" yaml:"compiler_options"`
	JestConfig      string         `mapstructure:"jest_config" yaml:"jest_config"`
}

type ToolchainConfig struct {
	// Backend selects how npm/tsc/jest are launched: "local" or "docker".
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type DockerConfig struct {
	Image       string  `mapstructure:"image" yaml:"image"`
	MemoryLimit int64   `mapstructure:"memory_limit" yaml:"memory_limit"`
	CPULimit    float64 `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	PoolSize    int     `mapstructure:"pool_size" yaml:"pool_size"`
	Network     string  `mapstructure:"network" yaml:"network"`
	User        string  `mapstructure:"user" yaml:"user"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Toolchain ToolchainConfig `mapstructure:"toolchain" yaml:"toolchain"`
	Docker    DockerConfig    `mapstructure:"docker" yaml:"docker"`
}

// DefaultCompilerOptions is the minimal tsconfig.json option set.
func DefaultCompilerOptions() map[string]any {
	return map[string]any{
		"target":          "es2020",
		"module":          "commonjs",
		"esModuleInterop": true,
		"skipLibCheck":    true,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.body_limit", 10<<20)
	v.SetDefault("server.cleanup_on_shutdown", true)

	v.SetDefault("sandbox.temp_dir", "temp")
	v.SetDefault("sandbox.node_modules", "node_modules")
	v.SetDefault("sandbox.memory_limit", 100<<20)
	v.SetDefault("sandbox.timeout", 20*time.Second)
	v.SetDefault("sandbox.install_timeout", 60*time.Second)
	v.SetDefault("sandbox.jest_config", DefaultJestConfig)

	v.SetDefault("toolchain.backend", "local")

	v.SetDefault("docker.image", "node:22-alpine")
	v.SetDefault("docker.memory_limit", 512<<20)
	v.SetDefault("docker.cpu_limit", 1.0)
	v.SetDefault("docker.pool_size", 2)
	v.SetDefault("docker.network", "none")
	v.SetDefault("docker.user", "")
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults alone always unmarshal and validate.
		panic(err)
	}
	return cfg
}

// Load reads configuration from defaults, an optional YAML file and the
// environment. An explicit path must exist; the search-path file is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TSBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tsbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tsbox")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize makes paths absolute (symlinks must point at absolute targets)
// and rejects values the pipeline cannot work with.
func (c *Config) normalize() error {
	var err error
	if c.Sandbox.TempDir, err = filepath.Abs(c.Sandbox.TempDir); err != nil {
		return fmt.Errorf("resolving sandbox.temp_dir: %w", err)
	}
	if c.Sandbox.NodeModules, err = filepath.Abs(c.Sandbox.NodeModules); err != nil {
		return fmt.Errorf("resolving sandbox.node_modules: %w", err)
	}

	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Sandbox.MemoryLimit <= 0:
		return fmt.Errorf("sandbox.memory_limit must be positive")
	case c.Sandbox.Timeout <= 0 || c.Sandbox.InstallTimeout <= 0:
		return fmt.Errorf("sandbox timeouts must be positive")
	}

	switch c.Toolchain.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("toolchain.backend %q: want local or docker", c.Toolchain.Backend)
	}

	c.Sandbox.CompilerOptions = DefaultCompilerOptions()
	return nil
}
