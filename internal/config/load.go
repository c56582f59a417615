package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and environment
// variables with the SCRAPYD_ prefix. Environment variables take precedence
// over values from config files. When path is empty, scrapyd.yaml is looked
// up in the working directory and /etc/scrapyd; a missing file is fine and
// leaves the defaults in place.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scrapyd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/scrapyd")
	}

	v.SetEnvPrefix("SCRAPYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to determine node name: %w", err)
		}
		cfg.Server.NodeName = hostname
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.http_port", 6800)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.node_name", "")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.password_hash", "")

	v.SetDefault("storage.eggs_dir", "eggs")
	v.SetDefault("storage.logs_dir", "logs")
	v.SetDefault("storage.items_dir", "")
	v.SetDefault("storage.database", filepath.Join("dbs", "scrapyd.db"))

	v.SetDefault("launcher.max_procs", 0)
	v.SetDefault("launcher.max_procs_per_cpu", 4)
	v.SetDefault("launcher.max_procs_per_project", 0)
	v.SetDefault("launcher.poll_interval", 5*time.Second)
	v.SetDefault("launcher.finished_to_keep", 100)
	v.SetDefault("launcher.cancel_grace", 30*time.Second)
	v.SetDefault("launcher.shutdown_grace", 10*time.Second)

	v.SetDefault("runner.command", []string{"scrapyd-runner"})
	v.SetDefault("runner.list_timeout", 60*time.Second)
	v.SetDefault("runner.cache_explicit_versions", false)
}
