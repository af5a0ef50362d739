// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default locations on a provisioned device. Both can be redirected:
// the config path via LYRA_CONFIG, the env file via LYRA_ENV_FILE.
const (
	DefaultConfigPath = "/etc/lyra/agent.yaml"
	DefaultEnvFile    = "/etc/lyra/lyra.env"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for workstations: paths move under the user's home
	// directory so no root is required.
	Development Environment = "development"
	// Production is for provisioned devices.
	Production Environment = "production"
)

// Duration is a time.Duration that unmarshals from YAML scalars in
// time.ParseDuration format ("60s", "30m", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar like \"60s\", got a %v node", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the master configuration for Lyra.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Paths configures the three directory roots everything else hangs off.
	Paths PathsConfig `yaml:"paths"`

	// Backend configures the device API client.
	Backend BackendConfig `yaml:"backend"`

	// Heartbeat configures the heartbeat / intervention poll loop.
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Supervisor configures client process supervision.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// App identifies the supervised client application.
	App AppConfig `yaml:"app"`

	// Metrics configures the localhost Prometheus listener.
	Metrics MetricsConfig `yaml:"metrics"`

	// Maintenance configures scheduled housekeeping.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Sections not listed here do not vary by environment.
type ConfigOverrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Backend   *BackendConfig   `yaml:"backend,omitempty"`
	Heartbeat *HeartbeatConfig `yaml:"heartbeat,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
}

// PathsConfig configures the directory roots. Everything the agent
// persists lives under one of these three; the derived locations are
// fixed so external tooling can find marker files without reading
// the config.
type PathsConfig struct {
	// Etc holds the config file and the .env file.
	Etc string `yaml:"etc"`

	// State holds identity keys, the app checkout, the log spool, the
	// journal, and marker files. Survives reboots.
	State string `yaml:"state"`

	// Run holds the PID file and the control socket. Tmpfs on devices.
	Run string `yaml:"run"`
}

// EnvFile returns the path of the device .env file.
func (p PathsConfig) EnvFile() string { return filepath.Join(p.Etc, "lyra.env") }

// IdentityDir returns the directory holding device keys and the sealed
// credential bundle.
func (p PathsConfig) IdentityDir() string { return filepath.Join(p.State, "identity") }

// AppDir returns the app repository checkout directory.
func (p PathsConfig) AppDir() string { return filepath.Join(p.State, "app") }

// SpoolDir returns the captured-log spool directory.
func (p PathsConfig) SpoolDir() string { return filepath.Join(p.State, "spool") }

// JournalDB returns the local journal database path.
func (p PathsConfig) JournalDB() string { return filepath.Join(p.State, "journal.db") }

// PIDFile returns the agent PID file path.
func (p PathsConfig) PIDFile() string { return filepath.Join(p.Run, "agent.pid") }

// Socket returns the control socket path.
func (p PathsConfig) Socket() string { return filepath.Join(p.Run, "agent.sock") }

// ActivityFile returns the voice-activity marker path. The client writes
// it after each interaction; the idle monitor reads it.
func (p PathsConfig) ActivityFile() string { return filepath.Join(p.State, "activity.json") }

// PairingCodeFile returns the pairing-code marker path.
func (p PathsConfig) PairingCodeFile() string { return filepath.Join(p.State, "pairing-code") }

// TransitionFile returns the marker recording the last app-repo
// transition (reinstall), consumed once by verify after a ref change.
func (p PathsConfig) TransitionFile() string { return filepath.Join(p.State, "transition.json") }

// BinaryRecordFile returns the marker recording the installed client
// binary's digest and source commit.
func (p PathsConfig) BinaryRecordFile() string { return filepath.Join(p.State, "binary.json") }

// BackendConfig configures the device API client.
type BackendConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com.
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds each HTTP request.
	// Default: 15s
	RequestTimeout Duration `yaml:"request_timeout"`

	// RetryAttempts is the total attempts per request (first try included)
	// for transient failures. Default: 3
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBackoff is the base delay between attempts; it doubles per
	// retry. Default: 2s
	RetryBackoff Duration `yaml:"retry_backoff"`

	// RateLimit caps outbound requests per second, shared across the
	// poller and auth refreshes so storms cannot hammer the backend.
	// Zero disables the limiter. Default: 2
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the limiter burst size. Default: 5
	RateBurst int `yaml:"rate_burst"`
}

// HeartbeatConfig configures the heartbeat / intervention poll loop.
type HeartbeatConfig struct {
	// Interval paces the loop. Default: 60s
	Interval Duration `yaml:"interval"`

	// LogTail is how many captured client log lines ride along with each
	// heartbeat. Zero sends none. Default: 100
	LogTail int `yaml:"log_tail"`

	// IncludeMetrics attaches host metrics (CPU, memory, disk, load,
	// temperature, uptime) to each heartbeat. Default: true
	IncludeMetrics bool `yaml:"include_metrics"`
}

// SupervisorConfig configures client process supervision.
type SupervisorConfig struct {
	// RestartDelay is the pause before restarting a crashed client.
	// Default: 5s
	RestartDelay Duration `yaml:"restart_delay"`

	// RestartBurst is how many restarts may happen back to back before
	// the budget is exhausted. Default: 6
	RestartBurst int `yaml:"restart_burst"`

	// RestartRefill is how often one restart credit returns to the
	// budget. Default: 2m
	RestartRefill Duration `yaml:"restart_refill"`

	// IdleTimeout restarts the client when the activity file has not
	// been touched for this long. Zero disables idle restarts.
	// Default: 30m
	IdleTimeout Duration `yaml:"idle_timeout"`

	// IdleSweep is the periodic staleness check interval, a backstop for
	// missed file events. Default: 1m
	IdleSweep Duration `yaml:"idle_sweep"`

	// StopGrace is how long a stopped client gets between SIGTERM and
	// SIGKILL. Default: 10s
	StopGrace Duration `yaml:"stop_grace"`
}

// AppConfig identifies the supervised client application.
type AppConfig struct {
	// RepoURL is the app repository, cloned at install and re-synced on
	// reinstall interventions.
	RepoURL string `yaml:"repo_url"`

	// Ref is the pinned branch, tag, or commit.
	// Default: main
	Ref string `yaml:"ref"`

	// Unit is an optional systemd unit name. When set, restart
	// interventions go through systemctl instead of the in-process
	// supervisor.
	Unit string `yaml:"unit"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address, e.g. 127.0.0.1:9464. Empty disables
	// the listener.
	Addr string `yaml:"addr"`
}

// MaintenanceConfig configures scheduled housekeeping.
type MaintenanceConfig struct {
	// Schedule is a cron expression for the housekeeping run.
	// Default: "17 3 * * *" (daily, 03:17 local)
	Schedule string `yaml:"schedule"`

	// JournalRetention prunes journal rows older than this.
	// Default: 720h (30 days)
	JournalRetention Duration `yaml:"journal_retention"`

	// SpoolMaxChunks caps sealed spool chunks on disk; the oldest are
	// rotated out first. Default: 64
	SpoolMaxChunks int `yaml:"spool_max_chunks"`
}

// Default returns the default configuration: a provisioned production
// device. Development moves the paths under the user's home directory
// via the environment override pass.
func Default() *Config {
	return &Config{
		Environment: Production,
		Paths: PathsConfig{
			Etc:   "/etc/lyra",
			State: "/var/lib/lyra",
			Run:   "/run/lyra",
		},
		Backend: BackendConfig{
			RequestTimeout: Duration(15 * time.Second),
			RetryAttempts:  3,
			RetryBackoff:   Duration(2 * time.Second),
			RateLimit:      2,
			RateBurst:      5,
		},
		Heartbeat: HeartbeatConfig{
			Interval:       Duration(60 * time.Second),
			LogTail:        100,
			IncludeMetrics: true,
		},
		Supervisor: SupervisorConfig{
			RestartDelay:  Duration(5 * time.Second),
			RestartBurst:  6,
			RestartRefill: Duration(2 * time.Minute),
			IdleTimeout:   Duration(30 * time.Minute),
			IdleSweep:     Duration(time.Minute),
			StopGrace:     Duration(10 * time.Second),
		},
		App: AppConfig{
			Ref: "main",
		},
		Metrics: MetricsConfig{},
		Maintenance: MaintenanceConfig{
			Schedule:         "17 3 * * *",
			JournalRetention: Duration(720 * time.Hour),
			SpoolMaxChunks:   64,
		},
	}
}

// Load loads configuration for a device process.
//
// The .env file is read into the process environment first (existing
// variables win), then the YAML config, then LYRA_* variables on top.
// LYRA_CONFIG names an explicit config file and must exist when set;
// without it the default path is used if present, and a device that has
// not been installed yet runs on defaults.
func Load() (*Config, error) {
	envFile := os.Getenv("LYRA_ENV_FILE")
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := LoadEnv(envFile); err != nil {
		return nil, err
	}

	if path := os.Getenv("LYRA_CONFIG"); path != "" {
		return LoadFile(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return LoadFile(DefaultConfigPath)
	}
	return resolve(Default())
}

// LoadFile loads configuration from a specific file path. The file must
// exist. LYRA_* environment variables still apply on top; the .env file
// is not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return resolve(cfg)
}

// LoadEnv loads KEY=VALUE pairs from the .env file at path into the
// process environment. Variables already set keep their values. A
// missing file is not an error: a device before first install has none.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// resolve applies the layered overrides in precedence order and expands
// path variables. Called after the YAML (or defaults) are in place.
func resolve(cfg *Config) (*Config, error) {
	// LYRA_ENVIRONMENT picks the override section, so it applies before
	// the section does.
	if v := os.Getenv("LYRA_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(v)
	}

	cfg.applyEnvironmentOverrides()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the file's environment-specific
// section. When the matching section is absent, each environment gets
// its baked-in adjustments: development moves paths under the home
// directory, production turns the metrics listener on.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
		if overrides == nil {
			home, _ := os.UserHomeDir()
			root := filepath.Join(home, ".local", "share", "lyra")
			overrides = &ConfigOverrides{
				Paths: &PathsConfig{
					Etc:   root,
					State: root,
					Run:   filepath.Join(home, ".cache", "lyra", "run"),
				},
			}
		}
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Metrics: &MetricsConfig{Addr: "127.0.0.1:9464"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Etc != "" {
			c.Paths.Etc = overrides.Paths.Etc
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Run != "" {
			c.Paths.Run = overrides.Paths.Run
		}
	}

	if overrides.Backend != nil {
		if overrides.Backend.BaseURL != "" {
			c.Backend.BaseURL = overrides.Backend.BaseURL
		}
		if overrides.Backend.RequestTimeout != 0 {
			c.Backend.RequestTimeout = overrides.Backend.RequestTimeout
		}
		if overrides.Backend.RetryAttempts != 0 {
			c.Backend.RetryAttempts = overrides.Backend.RetryAttempts
		}
		if overrides.Backend.RetryBackoff != 0 {
			c.Backend.RetryBackoff = overrides.Backend.RetryBackoff
		}
		if overrides.Backend.RateLimit != 0 {
			c.Backend.RateLimit = overrides.Backend.RateLimit
		}
		if overrides.Backend.RateBurst != 0 {
			c.Backend.RateBurst = overrides.Backend.RateBurst
		}
	}

	if overrides.Heartbeat != nil {
		if overrides.Heartbeat.Interval != 0 {
			c.Heartbeat.Interval = overrides.Heartbeat.Interval
		}
		if overrides.Heartbeat.LogTail != 0 {
			c.Heartbeat.LogTail = overrides.Heartbeat.LogTail
		}
		// IncludeMetrics is a bool, so it always applies from overrides.
		c.Heartbeat.IncludeMetrics = overrides.Heartbeat.IncludeMetrics
	}

	if overrides.Metrics != nil {
		if overrides.Metrics.Addr != "" {
			c.Metrics.Addr = overrides.Metrics.Addr
		}
	}
}

// applyEnvOverrides maps LYRA_* environment variables onto config
// fields. The .env file was loaded into the environment earlier, so its
// keys arrive through the same path. These win over the config file.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("LYRA_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("LYRA_APP_REPO"); v != "" {
		c.App.RepoURL = v
	}
	if v := os.Getenv("LYRA_APP_REF"); v != "" {
		c.App.Ref = v
	}
	if v := os.Getenv("LYRA_DEVICE_UNIT"); v != "" {
		c.App.Unit = v
	}
	if v := os.Getenv("LYRA_STATE_DIR"); v != "" {
		c.Paths.State = v
	}
	if v := os.Getenv("LYRA_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("LYRA_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LYRA_HEARTBEAT_INTERVAL: %w", err)
		}
		c.Heartbeat.Interval = Duration(d)
	}
	if v := os.Getenv("LYRA_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LYRA_IDLE_TIMEOUT: %w", err)
		}
		c.Supervisor.IdleTimeout = Duration(d)
	}
	if v := os.Getenv("LYRA_LOG_TAIL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LYRA_LOG_TAIL: %w", err)
		}
		c.Heartbeat.LogTail = n
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path roots.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LYRA_STATE": c.Paths.State,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["LYRA_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.Etc = expandVars(c.Paths.Etc, vars)
	c.Paths.Run = expandVars(c.Paths.Run, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. The agent validates at
// startup; CLI commands that never touch the backend skip it.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Etc == "" {
		errs = append(errs, fmt.Errorf("paths.etc is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Run == "" {
		errs = append(errs, fmt.Errorf("paths.run is required"))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, fmt.Errorf("backend.base_url is required"))
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("backend.base_url must be http or https, got %q", u.Scheme))
	}

	if c.Backend.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("backend.retry_attempts must be at least 1"))
	}

	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval must be positive"))
	}
	if c.Heartbeat.LogTail < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.log_tail must not be negative"))
	}

	if c.Supervisor.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.stop_grace must be positive"))
	}
	if c.Supervisor.RestartBurst < 1 {
		errs = append(errs, fmt.Errorf("supervisor.restart_burst must be at least 1"))
	}
	if c.Supervisor.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("supervisor.idle_timeout must not be negative"))
	}

	if c.App.RepoURL == "" {
		errs = append(errs, fmt.Errorf("app.repo_url is required"))
	}

	if c.Maintenance.Schedule == "" {
		errs = append(errs, fmt.Errorf("maintenance.schedule is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasSystemd reports whether the host under root is booted with
// systemd, by the marker directory systemd creates at runtime. Restart
// interventions need it whenever app.unit is set; without it the agent
// falls back to supervising the client in-process.
func HasSystemd(root string) bool {
	_, err := os.Stat(filepath.Join(root, "run/systemd/system"))
	return err == nil
}

// EnsurePaths creates the runtime directories if they don't exist. The
// identity directory is private to the agent user.
func (c *Config) EnsurePaths() error {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{c.Paths.State, 0755},
		{c.Paths.Run, 0755},
		{c.Paths.AppDir(), 0755},
		{c.Paths.SpoolDir(), 0700},
		{c.Paths.IdentityDir(), 0700},
	}

	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return fmt.Errorf("creating %s: %w", d.path, err)
		}
	}

	return nil
}
