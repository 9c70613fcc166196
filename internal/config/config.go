package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models termbridge.yml.
type Config struct {
	Site struct {
		ID   string `yaml:"id"`
		Role string `yaml:"role"`
	} `yaml:"site"`
	Reviewer struct {
		URL            string `yaml:"url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"reviewer"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one outbound event subscription; the reviewer site
// uses these to push review outcomes back to proposers.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	RoleProposer = "proposer"
	RoleReviewer = "reviewer"
	RoleBoth     = "both"
)

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with tb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("config.site.id is required")
	}
	switch c.Site.Role {
	case RoleProposer, RoleReviewer, RoleBoth:
	default:
		return fmt.Errorf("config.site.role must be one of proposer, reviewer, both")
	}
	if c.Site.Role != RoleReviewer && c.Reviewer.URL == "" {
		return fmt.Errorf("config.reviewer.url is required for a proposer site")
	}
	if c.Reviewer.TimeoutSeconds < 0 {
		return fmt.Errorf("config.reviewer.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "termbridge.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(siteID, role string) string {
	return fmt.Sprintf(defaultTemplate, siteID, role)
}

// Default returns the default Config struct for a site.
func Default(siteID, role string) *Config {
	var cfg Config
	cfg.Site.ID = siteID
	cfg.Site.Role = role
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(siteID, role))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `site:
  id: %s
  role: %s

reviewer:
  url: http://localhost:8713
  api_key: ""
  timeout_seconds: 10

webhooks: []
`
