// Package config loads offdoc's TOML configuration through viper. Every key
// can be overridden from the environment as OFFDOC_<SECTION>_<KEY>.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/offdoc/internal/backend"
	"github.com/loykin/offdoc/internal/chat"
	"github.com/loykin/offdoc/internal/detector"
	"github.com/loykin/offdoc/internal/env"
	"github.com/loykin/offdoc/internal/health"
	"github.com/loykin/offdoc/internal/logger"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/ollama"
	"github.com/loykin/offdoc/internal/process"
	"github.com/loykin/offdoc/internal/supervisor"
)

const EnvPrefix = "OFFDOC"

type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Health  HealthConfig  `mapstructure:"health"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Store   StoreConfig   `mapstructure:"store"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Log     logger.Config `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// BackendConfig describes the supervised backend process. An empty Command
// launches the Python virtual-environment backend under Root.
type BackendConfig struct {
	Root         string        `mapstructure:"root"`
	Command      string        `mapstructure:"command"`
	Addr         string        `mapstructure:"addr"`
	Autostart    bool          `mapstructure:"autostart"`
	StartupGrace time.Duration `mapstructure:"startup_grace"`
	StopWait     time.Duration `mapstructure:"stop_wait"`
	LogDir       string        `mapstructure:"log_dir"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`
	UseOSEnv     bool          `mapstructure:"use_os_env"`
}

// RuntimeConfig covers the model runtime: the CLI used for probing and the
// HTTP API the Go backend talks to.
type RuntimeConfig struct {
	Binary         string        `mapstructure:"binary"`
	Args           []string      `mapstructure:"args"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Host           string        `mapstructure:"host"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PullTimeout    time.Duration `mapstructure:"pull_timeout"`
	// AutoServe lets `offdoc backend` launch the runtime server when it
	// does not answer. ServeCommand defaults to "<binary> serve".
	AutoServe      bool          `mapstructure:"auto_serve"`
	ServeCommand   string        `mapstructure:"serve_command"`
	ServeWait      time.Duration `mapstructure:"serve_wait"`
}

type HealthConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Schedule is a cron expression for periodic re-evaluation. Empty
	// disables it.
	Schedule string `mapstructure:"schedule"`
}

type ChatConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FallbackPolicy string        `mapstructure:"fallback_policy"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled   bool                   `mapstructure:"enabled"`
	Resources metrics.ResourceConfig `mapstructure:"resources"`
}

// DefaultDataDir is ~/.offdoc, or ./.offdoc when no home is known.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".offdoc"
	}
	return filepath.Join(home, ".offdoc")
}

func setDefaults(v *viper.Viper) {
	data := DefaultDataDir()

	v.SetDefault("backend.root", "backend")
	v.SetDefault("backend.command", "")
	v.SetDefault("backend.addr", backend.DefaultAddr)
	v.SetDefault("backend.autostart", true)
	v.SetDefault("backend.startup_grace", supervisor.DefaultStartupGrace)
	v.SetDefault("backend.stop_wait", supervisor.DefaultStopWait)
	v.SetDefault("backend.log_dir", "")
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.env_files", []string{})
	v.SetDefault("backend.use_os_env", true)

	v.SetDefault("runtime.binary", detector.DefaultRuntimeBinary)
	v.SetDefault("runtime.args", detector.DefaultRuntimeArgs)
	v.SetDefault("runtime.timeout", detector.DefaultRuntimeTimeout)
	v.SetDefault("runtime.host", ollama.DefaultBaseURL)
	v.SetDefault("runtime.model", ollama.DefaultModel)
	v.SetDefault("runtime.request_timeout", ollama.DefaultTimeout)
	v.SetDefault("runtime.pull_timeout", ollama.DefaultPullTimeout)
	v.SetDefault("runtime.auto_serve", true)
	v.SetDefault("runtime.serve_command", "")
	v.SetDefault("runtime.serve_wait", backend.DefaultServeWait)

	v.SetDefault("health.url", health.DefaultURL)
	v.SetDefault("health.timeout", health.DefaultTimeout)
	v.SetDefault("health.schedule", "@every 30s")

	v.SetDefault("chat.base_url", chat.DefaultBaseURL)
	v.SetDefault("chat.timeout", chat.DefaultTimeout)
	v.SetDefault("chat.fallback_policy", string(chat.PolicyRandom))

	v.SetDefault("store.dsn", "sqlite://"+filepath.Join(data, "offdoc.db"))

	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.addr", "127.0.0.1:5050")

	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout", "")
	v.SetDefault("log.file.stderr", "")
	v.SetDefault("log.file.app", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.resources.enabled", false)
	v.SetDefault("metrics.resources.interval", 5*time.Second)
	v.SetDefault("metrics.resources.max_history", 60)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// Load reads path (TOML) on top of the defaults and the OFFDOC_ environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := chat.ParsePolicy(c.Chat.FallbackPolicy); err != nil {
		errs = append(errs, fmt.Errorf("chat.fallback_policy: %w", err))
	}
	if c.Backend.StartupGrace < 0 {
		errs = append(errs, errors.New("backend.startup_grace must not be negative"))
	}
	if c.Backend.StopWait < 0 {
		errs = append(errs, errors.New("backend.stop_wait must not be negative"))
	}
	if c.Health.Timeout < 0 || c.Runtime.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	return errors.Join(errs...)
}

// ProcessSpec builds the launch spec of the backend process.
func (c *Config) ProcessSpec() process.Spec {
	log := c.Log
	if c.Backend.LogDir != "" {
		log.File.Dir = c.Backend.LogDir
	}
	return process.Spec{
		Name:    process.DefaultName,
		Root:    c.Backend.Root,
		Command: c.Backend.Command,
		Log:     log,
	}
}

// BackendEnv composes the backend environment: OS env when enabled, then
// env files in order, then the inline env list.
func (c *Config) BackendEnv() (*env.Env, error) {
	e := env.Isolated()
	if c.Backend.UseOSEnv {
		e.FromOS()
	}
	for _, f := range c.Backend.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	e.SetPairs(c.Backend.Env)
	return e, nil
}

// FallbackPolicy returns the validated fallback policy.
func (c *Config) FallbackPolicy() chat.Policy {
	p, err := chat.ParsePolicy(c.Chat.FallbackPolicy)
	if err != nil {
		return chat.PolicyRandom
	}
	return p
}

// OllamaConfig is the client configuration for the Go backend.
// BootOptions are the startup steps of `offdoc backend`.
func (c *Config) BootOptions() backend.BootOptions {
	cmd := strings.TrimSpace(c.Runtime.ServeCommand)
	if cmd == "" {
		cmd = c.Runtime.Binary + " serve"
	}
	return backend.BootOptions{
		StartRuntime: c.Runtime.AutoServe,
		ServeCommand: cmd,
		ServeWait:    c.Runtime.ServeWait,
		Model:        c.Runtime.Model,
	}
}

func (c *Config) OllamaConfig() ollama.Config {
	return ollama.Config{
		BaseURL:     c.Runtime.Host,
		Model:       c.Runtime.Model,
		Timeout:     c.Runtime.RequestTimeout,
		PullTimeout: c.Runtime.PullTimeout,
	}
}
