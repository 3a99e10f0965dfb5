// Package config holds the daemon configuration.
//
// Resolution order: built-in defaults, then an optional YAML file,
// then GANTRY_* environment variables. The daemon is supervisor-run
// and environment-provided; the file exists for hosts that prefer
// versioned config over unit-file environments.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// Network is the docker bridge network to watch. Containers not
	// attached to it are never routed.
	Network string `yaml:"network" env:"GANTRY_NETWORK"`

	// ListenPort is the port the generated server blocks listen on.
	ListenPort int `yaml:"listen_port" env:"GANTRY_LISTEN_PORT"`

	// RoutePrefix is an optional shared prefix (such as "/dev")
	// prepended to every path route and stripped before proxying.
	RoutePrefix string `yaml:"route_prefix" env:"GANTRY_ROUTE_PREFIX"`

	// UpstreamsFile and RoutesFile are the live include files. The
	// staging directory is created next to them so promotion is a
	// same-filesystem rename.
	UpstreamsFile string `yaml:"upstreams_file" env:"GANTRY_UPSTREAMS_FILE"`
	RoutesFile    string `yaml:"routes_file" env:"GANTRY_ROUTES_FILE"`

	// NginxBin is the nginx binary used for validation and reload.
	NginxBin string `yaml:"nginx_bin" env:"GANTRY_NGINX_BIN"`

	// SettleDelay is the pause after a container start event, giving
	// the network attachment time to complete before inspection.
	SettleDelay time.Duration `yaml:"settle_delay" env:"GANTRY_SETTLE_DELAY"`

	// Per-stage timeouts. A stage that exceeds its timeout fails the
	// pass; it never hangs the watcher.
	InspectTimeout  time.Duration `yaml:"inspect_timeout" env:"GANTRY_INSPECT_TIMEOUT"`
	ValidateTimeout time.Duration `yaml:"validate_timeout" env:"GANTRY_VALIDATE_TIMEOUT"`
	ReloadTimeout   time.Duration `yaml:"reload_timeout" env:"GANTRY_RELOAD_TIMEOUT"`

	// DataDir holds the pass journal and the instance lock.
	DataDir string `yaml:"data_dir" env:"GANTRY_DATA_DIR"`

	// Socket is the unix control socket served by the daemon.
	Socket string `yaml:"socket" env:"GANTRY_SOCKET"`

	LogLevel string `yaml:"log_level" env:"GANTRY_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Network:         "gantry",
		ListenPort:      80,
		UpstreamsFile:   "/etc/nginx/conf.d/gantry-upstreams.conf",
		RoutesFile:      "/etc/nginx/conf.d/gantry-routes.conf",
		NginxBin:        "nginx",
		SettleDelay:     2 * time.Second,
		InspectTimeout:  10 * time.Second,
		ValidateTimeout: 15 * time.Second,
		ReloadTimeout:   15 * time.Second,
		DataDir:         "/var/lib/gantry",
		Socket:          "/var/run/gantryd.sock",
		LogLevel:        "info",
	}
}

// Load resolves the configuration. An empty path skips the file layer;
// a named file that does not exist is an error, the default path
// silently falls through to defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	// "/dev/" and "/dev" mean the same prefix; the renderer expects it
	// without the trailing slash.
	cfg.RoutePrefix = strings.TrimRight(cfg.RoutePrefix, "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Path returns the default config file location.
func Path() string {
	return "/etc/gantry/config.yaml"
}

// StageDir is the staging directory for candidate config files,
// beside the live routes file so promotion renames stay on one
// filesystem.
func (c Config) StageDir() string {
	return filepath.Join(filepath.Dir(c.RoutesFile), ".gantry-stage")
}

// JournalPath is the sqlite pass journal location.
func (c Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// LockPath is the single-instance lock file location.
func (c Config) LockPath() string {
	return filepath.Join(c.DataDir, "gantryd.lock")
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Network) == "" {
		return fmt.Errorf("network name is required")
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", c.ListenPort)
	}
	if c.UpstreamsFile == "" || c.RoutesFile == "" {
		return fmt.Errorf("upstreams and routes file paths are required")
	}
	if filepath.Dir(c.UpstreamsFile) != filepath.Dir(c.RoutesFile) {
		return fmt.Errorf("upstreams and routes files must share a directory")
	}
	if c.RoutePrefix != "" && !strings.HasPrefix(c.RoutePrefix, "/") {
		return fmt.Errorf("route prefix %q must start with /", c.RoutePrefix)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative")
	}
	return nil
}
