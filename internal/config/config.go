package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models stageline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// DevLogin enables the unauthenticated token-minting endpoint for
		// local development. Never enable in production.
		DevLogin bool `yaml:"dev_login"`
	} `yaml:"auth"`
	Stages struct {
		// Template seeds the stage registry of newly created projects.
		Template []StageTemplate `yaml:"template"`
	} `yaml:"stages"`
	Attachments struct {
		SigningSecret string `yaml:"signing_secret"`
		BaseURL       string `yaml:"base_url"`
	} `yaml:"attachments"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type StageTemplate struct {
	Name       string `yaml:"name"`
	OwnerEmail string `yaml:"owner_email,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Kinds          []string `yaml:"kinds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one or run with defaults", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	seen := map[string]bool{}
	for i, st := range c.Stages.Template {
		name := strings.ToLower(strings.TrimSpace(st.Name))
		if name == "" {
			return fmt.Errorf("config.stages.template[%d] has empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("config.stages.template has duplicate stage %q", st.Name)
		}
		seen[name] = true
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
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
	return filepath.Join(workspace, "stageline.yml")
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
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

// GenerateDefault returns the default config YAML for bootstrap.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""
  dev_login: false

stages:
  template:
    - name: Intake
    - name: In Progress
    - name: Review
    - name: Done

attachments:
  signing_secret: ""
  base_url: http://127.0.0.1:8080/uploads
`
