package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/fleetd/internal/env"
	"github.com/loykin/fleetd/internal/logger"
	"github.com/loykin/fleetd/internal/process"
	"github.com/loykin/fleetd/internal/service"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLEETD_ENVIRONMENT.
const EnvPrefix = "FLEETD"

// EnvAPIs overrides --api when non-empty.
const EnvAPIs = EnvPrefix + "_APIS"

// EnvService is set in every child so it knows which service it runs.
const EnvService = EnvPrefix + "_SERVICE"

// Mode is the deployment mode the supervisor runs under.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeManaged Mode = "managed"
	ModeOther   Mode = "other"
)

// ServiceConfig holds the per-service knobs. Host and Port are ignored for workers.
type ServiceConfig struct {
	Host                      string   `toml:"host" mapstructure:"host"`
	Port                      int      `toml:"port" mapstructure:"port"`
	Disable                   bool     `toml:"disable" mapstructure:"disable"`
	RestartOnFailure          bool     `toml:"restart_on_failure" mapstructure:"restart_on_failure"`
	MaxRestartCount           int      `toml:"max_restart_count" mapstructure:"max_restart_count"`
	MaxRestartIntervalSeconds int      `toml:"max_restart_interval_seconds" mapstructure:"max_restart_interval_seconds"`
	Command                   string   `toml:"command" mapstructure:"command"`
	Args                      []string `toml:"args" mapstructure:"args"`
	Env                       []string `toml:"env" mapstructure:"env"`
	Schedule                  string   `toml:"schedule" mapstructure:"schedule"` // jobs and tasks only
}

// Policy converts the restart knobs.
func (s ServiceConfig) Policy() service.RestartPolicy {
	return service.RestartPolicy{
		Enabled:     s.RestartOnFailure,
		MaxCount:    s.MaxRestartCount,
		MaxInterval: time.Duration(s.MaxRestartIntervalSeconds) * time.Second,
	}
}

type MLTaskQueueConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Consumer      bool          `toml:"consumer" mapstructure:"consumer"`
	PollInterval  time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	TrainDuration time.Duration `toml:"train_duration" mapstructure:"train_duration"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	Dir        string `toml:"dir" mapstructure:"dir"` // per-service stdout/stderr files
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type StorageConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MarksConfig struct {
	Dir string `toml:"dir" mapstructure:"dir"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig  `toml:"tls" mapstructure:"tls"`
	Auth     AuthConfig `toml:"auth" mapstructure:"auth"`
}

// AuthConfig guards the status API. Users maps a name to a bcrypt hash.
type AuthConfig struct {
	Enabled bool              `toml:"enabled" mapstructure:"enabled"`
	Tokens  []string          `toml:"tokens" mapstructure:"tokens"`
	Users   map[string]string `toml:"users" mapstructure:"users"`
}

// TLSConfig enables HTTPS on the status server. CertFile and KeyFile win
// over Dir; with AutoGenerate a self-signed pair is written into Dir.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
}

type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type HealthConfig struct {
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type ReconcileConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type ShutdownConfig struct {
	Grace time.Duration `toml:"grace" mapstructure:"grace"`
}

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Environment string                   `toml:"environment" mapstructure:"environment"`
	APIs        string                   `toml:"apis" mapstructure:"apis"`
	Env         []string                 `toml:"env" mapstructure:"env"`
	EnvFiles    []string                 `toml:"env_files" mapstructure:"env_files"`
	PIDDir      string                   `toml:"pid_dir" mapstructure:"pid_dir"`
	API         map[string]ServiceConfig `toml:"api" mapstructure:"api"`
	Jobs        ServiceConfig            `toml:"jobs" mapstructure:"jobs"`
	Tasks       ServiceConfig            `toml:"tasks" mapstructure:"tasks"`
	MLTaskQueue MLTaskQueueConfig        `toml:"ml_task_queue" mapstructure:"ml_task_queue"`
	Storage     StorageConfig            `toml:"storage" mapstructure:"storage"`
	Marks       MarksConfig              `toml:"marks" mapstructure:"marks"`
	Log         LogConfig                `toml:"log" mapstructure:"log"`
	Metrics     MetricsConfig            `toml:"metrics" mapstructure:"metrics"`
	Server      ServerConfig             `toml:"server" mapstructure:"server"`
	History     HistoryConfig            `toml:"history" mapstructure:"history"`
	Health      HealthConfig             `toml:"health" mapstructure:"health"`
	Reconcile   ReconcileConfig          `toml:"reconcile" mapstructure:"reconcile"`
	Shutdown    ShutdownConfig           `toml:"shutdown" mapstructure:"shutdown"`
}

// Config is a loaded configuration.
type Config struct {
	FileConfig
	path    string
	apisSet bool
}

// DefaultHost is the bind address of the api services.
const DefaultHost = "127.0.0.1"

// DefaultPorts are used when [api.<name>] does not set a port.
var DefaultPorts = map[service.Name]int{
	service.HTTP:     47334,
	service.MySQL:    47335,
	service.MongoDB:  47336,
	service.Postgres: 55432,
	service.MCP:      47337,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(ModeLocal))
	v.SetDefault("storage.dsn", filepath.Join(os.TempDir(), "fleetd", "fleetd.db"))
	v.SetDefault("marks.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("health.timeout", "60s")
	v.SetDefault("health.interval", "500ms")
	v.SetDefault("reconcile.interval", "5s")
	v.SetDefault("shutdown.grace", "10s")
	v.SetDefault("jobs.schedule", "@every 5s")
	v.SetDefault("tasks.schedule", "@every 1s")
	v.SetDefault("ml_task_queue.poll_interval", "1s")
	v.SetDefault("ml_task_queue.train_duration", "2s")
	for n, port := range DefaultPorts {
		key := "api." + string(n)
		v.SetDefault(key+".host", DefaultHost)
		v.SetDefault(key+".port", port)
		v.SetDefault(key+".max_restart_count", service.DefaultMaxRestartCount)
		v.SetDefault(key+".max_restart_interval_seconds", int(service.DefaultMaxRestartInterval/time.Second))
	}
	for _, key := range []string{"jobs", "tasks", "ml_task_queue"} {
		v.SetDefault(key+".max_restart_count", service.DefaultMaxRestartCount)
		v.SetDefault(key+".max_restart_interval_seconds", int(service.DefaultMaxRestartInterval/time.Second))
	}
}

// Load reads the TOML file at path. An empty path yields the defaults.
// Keys can be overridden with FLEETD_<SECTION>_<KEY> environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for key := range fc.API {
		if n := service.Name(key); !n.IsAPI() {
			return nil, fmt.Errorf("[api.%s]: %w", key, service.ErrUnknownService)
		}
	}
	return &Config{FileConfig: fc, path: path, apisSet: v.InConfig("apis")}, nil
}

// Path returns the file the config was read from, or "".
func (c *Config) Path() string { return c.path }

// Mode maps the environment setting to a deployment mode.
func (c *Config) Mode() Mode {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development":
		return ModeLocal
	case "managed", "cloud", "hosted":
		return ModeManaged
	default:
		return ModeOther
	}
}

// Managed reports whether orphan repair and restarts belong to the platform.
func (c *Config) Managed() bool { return c.Mode() == ModeManaged }

// ResolveAPIs picks the api list: FLEETD_APIS, then --api (when given),
// then the file's apis key, then the default http and mysql pair.
// A blank value selects no api.
func (c *Config) ResolveAPIs(flag string, flagSet bool) ([]service.Name, error) {
	if s := os.Getenv(EnvAPIs); s != "" {
		return service.ParseAPIs(s)
	}
	if flagSet {
		return service.ParseAPIs(flag)
	}
	if c.apisSet {
		return service.ParseAPIs(c.APIs)
	}
	return append([]service.Name(nil), service.DefaultAPIs...), nil
}

// ServiceConfig returns the settings for n.
func (c *Config) ServiceConfig(n service.Name) ServiceConfig {
	switch n {
	case service.Jobs:
		return c.Jobs
	case service.Tasks:
		return c.Tasks
	case service.MLTaskQueue:
		return c.MLTaskQueue.ServiceConfig
	}
	sc := c.API[string(n)]
	if sc.Port == 0 {
		sc.Port = DefaultPorts[n]
	}
	if sc.Host == "" {
		sc.Host = DefaultHost
	}
	return sc
}

// ChildLog is the stdout/stderr destination for service processes.
func (c *Config) ChildLog() logger.Config {
	return logger.Config{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// SlogConfig is the supervisor's own logger setup. verbose forces debug.
func (c *Config) SlogConfig(verbose bool) logger.SlogConfig {
	sc := logger.SlogConfig{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File:   c.Log.File,
		Rotate: c.ChildLog(),
	}
	if verbose {
		sc.Level = "debug"
	}
	return sc
}

// ChildEnv builds the env shared by every child.
func (c *Config) ChildEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range c.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
	}
	e.SetPairs(c.Env)
	return e, nil
}

// ComposeOptions carries the command line state handed to every child.
type ComposeOptions struct {
	Executable string // binary re-executed as "service <name>"
	Verbose    bool
	NoStudio   bool
	MLConsumer bool // --ml-task-queue-consumer
}

// NoStudioFlag suppresses the browser launch of the http service.
const NoStudioFlag = "--no-studio"

// Compose builds one descriptor per known service, in launch order.
// Needed is fixed here: the selected apis, jobs and tasks unless disabled,
// and ml_task_queue when asked for by flag or config.
func (c *Config) Compose(apis []service.Name, o ComposeOptions) ([]*service.Descriptor, error) {
	needed := make(map[service.Name]bool, len(service.Names))
	for _, n := range apis {
		if !n.IsAPI() {
			return nil, fmt.Errorf("%w: %q is not an api", service.ErrUnknownService, n)
		}
		needed[n] = true
	}
	needed[service.Jobs] = !c.Jobs.Disable
	needed[service.Tasks] = !c.Tasks.Disable
	needed[service.MLTaskQueue] = o.MLConsumer || c.MLTaskQueue.Consumer

	base, err := c.ChildEnv()
	if err != nil {
		return nil, err
	}
	exe := o.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}

	out := make([]*service.Descriptor, 0, len(service.Names))
	for _, n := range service.Names {
		sc := c.ServiceConfig(n)
		spec := process.Spec{
			Name:    string(n),
			Command: exe,
			Args:    c.childArgs(n, o),
			Log:     c.ChildLog(),
		}
		if sc.Command != "" {
			spec.Command = sc.Command
			spec.Args = append([]string(nil), sc.Args...)
		}
		extra := append([]string{EnvService + "=" + string(n)}, sc.Env...)
		spec.Env = base.Merge(extra...)
		if c.PIDDir != "" {
			spec.PIDFile = filepath.Join(c.PIDDir, string(n)+".pid")
		}
		d := &service.Descriptor{
			Name:       n,
			Entrypoint: spec,
			Needed:     needed[n],
			Policy:     sc.Policy(),
		}
		if n.IsAPI() {
			d.Port = sc.Port
		}
		if n == service.HTTP {
			d.OnRestart = func(s *process.Spec) {
				if !s.HasArg(NoStudioFlag) {
					s.Args = append(s.Args, NoStudioFlag)
				}
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *Config) childArgs(n service.Name, o ComposeOptions) []string {
	args := []string{"service", string(n)}
	if c.path != "" {
		args = append(args, "--config", c.path)
	}
	if o.Verbose {
		args = append(args, "--verbose")
	}
	if n == service.HTTP && o.NoStudio {
		args = append(args, NoStudioFlag)
	}
	return args
}
