// Package config loads launcher settings from an optional YAML file
// with environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"
)

// Error wraps configuration load failures.
var Error = errs.Class("config")

// Config holds the launcher's settings.
type Config struct {
	// ServerURL is the patch server base URL.
	ServerURL string `yaml:"server_url"`
	// InstallDir is the game installation folder.
	InstallDir string `yaml:"install_dir"`
	// DataDir holds persisted update state snapshots.
	DataDir string `yaml:"data_dir"`

	RepairCooldown  time.Duration `yaml:"repair_cooldown"`
	ClickDebounce   time.Duration `yaml:"click_debounce"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration. InstallDir defaults to the
// working directory and DataDir to a launcher subfolder of the user
// config directory.
func Default() Config {
	dataDir := ".launcher"
	if base, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(base, "terra-launcher")
	}
	wd, _ := os.Getwd()
	return Config{
		ServerURL:       "https://patch.terraonline.example/patcher.php",
		InstallDir:      wd,
		DataDir:         dataDir,
		RepairCooldown:  5 * time.Minute,
		ClickDebounce:   2500 * time.Millisecond,
		DownloadTimeout: 30 * time.Second,
	}
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, Error.Wrap(err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, Error.New("cannot parse %s: %v", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.ServerURL == "" {
		return cfg, Error.New("server_url is required")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LAUNCHER_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("LAUNCHER_INSTALL_DIR"); v != "" {
		c.InstallDir = v
	}
	if v := os.Getenv("LAUNCHER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LAUNCHER_VERBOSE"); v == "1" || v == "true" {
		c.Verbose = true
	}
	if v := os.Getenv("LAUNCHER_REPAIR_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RepairCooldown = d
		}
	}
}
