// Package config loads and validates the service configuration. Secrets and
// tokens are read here once and injected into components explicitly; nothing
// else reads the environment ad hoc.
package config

import (
	"fmt"
	"os"

	gounits "github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	// Addr is the listen address of the webhook server.
	Addr string `yaml:"addr" validate:"required"`
	// PublicURL is the externally reachable base URL; the webhook target URL
	// registered on GitHub is derived from it.
	PublicURL string `yaml:"public_url" validate:"required,url"`
}

type GitHubConfig struct {
	Token         string `yaml:"token"`
	APIBaseURL    string `yaml:"api_base_url" validate:"omitempty,url"`
	WebhookSecret string `yaml:"webhook_secret" validate:"required,min=16"`
}

type MailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from" validate:"required,contains=@"`
	APIBaseURL   string `yaml:"api_base_url" validate:"omitempty,url"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type ScanConfig struct {
	// MaxFileSize caps the size of a single fetched file, human-readable
	// (e.g. "1Mb"). Empty disables the cap.
	MaxFileSize string `yaml:"max_file_size"`
	Workers     int    `yaml:"workers" validate:"gte=0,lte=64"`
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	GitHub GitHubConfig `yaml:"github"`
	Mail   MailConfig   `yaml:"mail"`
	Store  StoreConfig  `yaml:"store"`
	Scan   ScanConfig   `yaml:"scan"`
}

// Load reads the yaml config at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed unmarshalling config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Environment overrides keep tokens out of config files on disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GITWIZARD_GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("GITWIZARD_WEBHOOK_SECRET"); v != "" {
		c.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("GITWIZARD_RESEND_API_KEY"); v != "" {
		c.Mail.ResendAPIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "gitwizard.db"
	}
	if c.Mail.From == "" {
		c.Mail.From = "GitWizard <alerts@gitwizard.com>"
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = 4
	}
}

// WebhookURL returns the target URL registered on GitHub repositories.
func (c *Config) WebhookURL() string {
	return c.Server.PublicURL + "/api/webhook/github"
}

// MaxFileSizeBytes parses the configured per-file size cap; 0 means no cap.
func (c *Config) MaxFileSizeBytes() (int64, error) {
	if c.Scan.MaxFileSize == "" {
		return 0, nil
	}
	return gounits.FromHumanSize(c.Scan.MaxFileSize)
}
