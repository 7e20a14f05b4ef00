package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "portcall.yml"

var categoryCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]*$`)

// Config models portcall.yml.
type Config struct {
	Port struct {
		Code     string `yaml:"code"`
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"port"`
	TaskCategories []TaskCategory `yaml:"task_categories"`
	Revision       struct {
		ReasonMinLength int `yaml:"reason_min_length"`
	} `yaml:"revision"`
	Mirror struct {
		Interval  time.Duration `yaml:"interval"`
		BatchSize int           `yaml:"batch_size"`
	} `yaml:"mirror"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type TaskCategory struct {
	Code            string        `yaml:"code"`
	Description     string        `yaml:"description"`
	DefaultDuration time.Duration `yaml:"default_duration"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Port.Code == "" {
		return fmt.Errorf("config.port.code is required")
	}
	if c.Port.Timezone != "" {
		if _, err := time.LoadLocation(c.Port.Timezone); err != nil {
			return fmt.Errorf("config.port.timezone: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, cat := range c.TaskCategories {
		code := strings.ToUpper(cat.Code)
		if !categoryCodePattern.MatchString(code) {
			return fmt.Errorf("task_categories[%d]: invalid code %q", i, cat.Code)
		}
		if seen[code] {
			return fmt.Errorf("task_categories: duplicate code %s", code)
		}
		seen[code] = true
		if cat.DefaultDuration < 0 {
			return fmt.Errorf("task category %s: default_duration must not be negative", code)
		}
	}
	if c.Revision.ReasonMinLength < 1 {
		return fmt.Errorf("config.revision.reason_min_length must be at least 1")
	}
	if c.Mirror.Interval <= 0 {
		return fmt.Errorf("config.mirror.interval must be positive")
	}
	if c.Mirror.BatchSize <= 0 {
		return fmt.Errorf("config.mirror.batch_size must be positive")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Category looks up a catalog entry case-insensitively.
func (c *Config) Category(code string) (TaskCategory, bool) {
	for _, cat := range c.TaskCategories {
		if strings.EqualFold(cat.Code, code) {
			return cat, true
		}
	}
	return TaskCategory{}, false
}

// Location is the port timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Port.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Port.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with portcall config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(""), nil
		}
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns default config YAML for a port.
func GenerateDefault(portCode string) string {
	if portCode == "" {
		portCode = "PTLEI"
	}
	return fmt.Sprintf(defaultTemplate, portCode)
}

// Default returns the default Config.
func Default(portCode string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(portCode)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes over the defaults, then validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	cfg.TaskCategories = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `port:
  code: %s
  name: ""
  timezone: UTC

task_categories:
  - code: MOOR
    description: "Mooring and unmooring"
    default_duration: 1h
  - code: PILOT
    description: "Pilotage"
    default_duration: 90m
  - code: MAINT
    description: "Maintenance on berth"
    default_duration: 4h
  - code: BUNK
    description: "Bunkering"
    default_duration: 3h

revision:
  reason_min_length: 1

mirror:
  interval: 5s
  batch_size: 100

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: json
`
