// Package config defines MANTIS's runtime configuration tree: per-service
// knobs plus global dashboard/alerting/storage settings (spec §"CLI
// surface"). Loading a YAML file into this tree is thin ambient plumbing —
// the CLI flag/prompt surface around it is an external collaborator and out
// of scope.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syn2much/mantis/internal/apperrors"
)

// ServiceConfig holds the knobs for one protocol emulator.
type ServiceConfig struct {
	Enabled bool           `yaml:"enabled"`
	Port    int            `yaml:"port"`
	Banner  string         `yaml:"banner,omitempty"`
	Extra   map[string]any `yaml:"extra,omitempty"`
}

// DashboardConfig holds the dashboard backend's bring-up knobs.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// AlertsConfig holds detection-engine webhook dispatch knobs.
type AlertsConfig struct {
	Enabled        bool              `yaml:"enabled"`
	WebhookURL     string            `yaml:"webhook_url,omitempty"`
	WebhookHeaders map[string]string `yaml:"webhook_headers,omitempty"`
}

// Config is the umbrella configuration object, analogous to the teacher's
// Config umbrella in pkg/config/config.go.
type Config struct {
	Services     map[string]ServiceConfig `yaml:"services"`
	Dashboard    DashboardConfig          `yaml:"dashboard"`
	Alerts       AlertsConfig             `yaml:"alerts"`
	DatabasePath string                   `yaml:"database_path"`
	GeoAPIURL    string                   `yaml:"geo_api_url,omitempty"`
	LogLevel     string                   `yaml:"log_level"`
}

// Default protocol/port pairs, matching the original Python project's
// default listener ports.
var defaultServicePorts = map[string]int{
	"ssh":     2222,
	"http":    8080,
	"ftp":     2121,
	"smb":     4450,
	"mysql":   3306,
	"telnet":  2323,
	"smtp":    2525,
	"mongodb": 27017,
	"vnc":     5900,
	"redis":   6379,
	"adb":     5555,
}

// Default returns a Config with every service enabled on its conventional
// port, a loopback-bound dashboard, and a local SQLite database path.
func Default() *Config {
	cfg := &Config{
		Services: make(map[string]ServiceConfig, len(defaultServicePorts)),
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8443,
		},
		Alerts:       AlertsConfig{Enabled: false},
		DatabasePath: "./mantis.db",
		LogLevel:     "info",
	}
	for name, port := range defaultServicePorts {
		cfg.Services[name] = ServiceConfig{Enabled: true, Port: port}
	}
	return cfg
}

// Load reads and parses a YAML configuration file, overlaying it onto
// Default(). Missing fields fall back to their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	mergeOverlay(cfg, &overlay)
	return cfg, cfg.Validate()
}

func mergeOverlay(base, overlay *Config) {
	for name, svc := range overlay.Services {
		base.Services[name] = svc
	}
	if overlay.Dashboard.Port != 0 {
		base.Dashboard = overlay.Dashboard
	}
	if overlay.Alerts.WebhookURL != "" || overlay.Alerts.Enabled {
		base.Alerts = overlay.Alerts
	}
	if overlay.DatabasePath != "" {
		base.DatabasePath = overlay.DatabasePath
	}
	if overlay.GeoAPIURL != "" {
		base.GeoAPIURL = overlay.GeoAPIURL
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
}

// Validate checks required fields, returning a FatalConfigError for the
// first problem found.
func (c *Config) Validate() error {
	for name, svc := range c.Services {
		if svc.Enabled && (svc.Port <= 0 || svc.Port > 65535) {
			return &apperrors.FatalConfigError{
				Field:  "services." + name + ".port",
				Reason: fmt.Sprintf("invalid port %d", svc.Port),
			}
		}
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return &apperrors.FatalConfigError{
			Field:  "dashboard.port",
			Reason: fmt.Sprintf("invalid port %d", c.Dashboard.Port),
		}
	}
	if c.DatabasePath == "" {
		return &apperrors.FatalConfigError{Field: "database_path", Reason: "required"}
	}
	return nil
}
