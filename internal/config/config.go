package config

import (
	"runtime"
	"time"
)

// Config holds all daemon configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Launcher LauncherConfig `mapstructure:"launcher" validate:"required"`
	Runner   RunnerConfig   `mapstructure:"runner" validate:"required"`

	// Settings carries per-project default runner settings, merged beneath
	// the settings supplied with each scheduled job.
	Settings map[string]map[string]string `mapstructure:"settings"`
}

// ServerConfig contains the HTTP control interface settings.
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address" validate:"required"`
	HTTPPort    int    `mapstructure:"http_port" validate:"required,gt=0,lt=65536"`
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// NodeName identifies this daemon in every API response. Defaults to
	// the machine hostname.
	NodeName string `mapstructure:"node_name"`

	// Username enables HTTP basic authentication when non-empty. Password
	// holds the plaintext secret; PasswordHash, when set, holds a bcrypt
	// hash and takes precedence over Password.
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// StorageConfig contains filesystem and database locations.
type StorageConfig struct {
	EggsDir  string `mapstructure:"eggs_dir" validate:"required"`
	LogsDir  string `mapstructure:"logs_dir" validate:"required"`
	ItemsDir string `mapstructure:"items_dir"`
	Database string `mapstructure:"database" validate:"required"`
}

// LauncherConfig contains process execution settings.
type LauncherConfig struct {
	// MaxProcs caps concurrently running crawl processes. Zero means derive
	// the cap from MaxProcsPerCPU and the CPU count.
	MaxProcs       int `mapstructure:"max_procs" validate:"gte=0"`
	MaxProcsPerCPU int `mapstructure:"max_procs_per_cpu" validate:"gte=0"`

	// MaxProcsPerProject caps running processes per project. Zero disables
	// the per-project limit.
	MaxProcsPerProject int `mapstructure:"max_procs_per_project" validate:"gte=0"`

	// PollInterval is how often the launcher checks the queues even without
	// being woken by an event.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// FinishedToKeep bounds the in-memory finished job set; the durable job
	// store is unaffected.
	FinishedToKeep int `mapstructure:"finished_to_keep" validate:"required,gt=0"`

	// CancelGrace is how long a cancelled process may outlive its signal
	// before being force-killed. Zero disables escalation.
	CancelGrace time.Duration `mapstructure:"cancel_grace" validate:"gte=0"`

	// ShutdownGrace is how long daemon shutdown waits for running crawls.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`
}

// RunnerConfig describes the bundle-introspection and crawl subprocess.
type RunnerConfig struct {
	// Command is the argv prefix every runner invocation starts with; the
	// subcommand ("crawl" or "list") and its arguments are appended.
	Command []string `mapstructure:"command" validate:"required,min=1"`

	// ListTimeout bounds one spider enumeration subprocess.
	ListTimeout time.Duration `mapstructure:"list_timeout" validate:"required"`

	// CacheExplicitVersions also caches enumerations requested for an
	// explicit version, not only latest-version lookups.
	CacheExplicitVersions bool `mapstructure:"cache_explicit_versions"`
}

// EffectiveMaxProcs resolves the global concurrency cap: MaxProcs when set,
// otherwise MaxProcsPerCPU times the number of CPUs.
func (c LauncherConfig) EffectiveMaxProcs() int {
	if c.MaxProcs > 0 {
		return c.MaxProcs
	}
	perCPU := c.MaxProcsPerCPU
	if perCPU <= 0 {
		perCPU = 4
	}
	return perCPU * runtime.NumCPU()
}
