package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models orgdesk.yml.
type Config struct {
	Org struct {
		Name string `yaml:"name"`
	} `yaml:"org"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	// Departments, when non-empty, closes the set of department tags accepted
	// on inventory requests.
	Departments []string        `yaml:"departments"`
	Webhooks    []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org.Name) == "" {
		return fmt.Errorf("config.org.name is required")
	}
	for i, d := range c.Departments {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("config.departments[%d] is empty", i)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be non-negative", i)
		}
	}
	return nil
}

// KnownDepartment reports whether the department tag is accepted. An empty
// configured list accepts anything non-blank.
func (c *Config) KnownDepartment(dept string) bool {
	if strings.TrimSpace(dept) == "" {
		return false
	}
	if len(c.Departments) == 0 {
		return true
	}
	for _, d := range c.Departments {
		if d == dept {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orgdesk.yml")
}

// Default returns the default Config for an organization.
func Default(orgName string) *Config {
	var cfg Config
	cfg.Org.Name = orgName
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/v1"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the workspace config, or defaults if no file exists.
func LoadOptional(workspace, orgName string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(orgName), nil
		}
		return nil, err
	}
	return FromYAML(data)
}
