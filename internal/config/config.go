// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail archiver.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultPageSize is the message page size requested per API call.
const defaultPageSize = 50

// defaultStorageRoot is the archive directory used when none is configured.
const defaultStorageRoot = "data"

// Config holds the complete application configuration.
type Config struct {
	Graph   GraphConfig   `yaml:"graph"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// GraphConfig holds Microsoft Graph API credentials.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// MailboxConfig holds the mailbox selection and fetch settings.
type MailboxConfig struct {
	UserID     string `yaml:"user_id"`
	PageSize   int    `yaml:"page_size"`
	UnreadOnly bool   `yaml:"unread_only"`
}

// StorageConfig holds the archive directory settings.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Mailbox.PageSize = defaultPageSize
	c.Mailbox.UnreadOnly = true
	c.Storage.Root = defaultStorageRoot
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}

	if v := os.Getenv("MAILBOX_USER_ID"); v != "" {
		c.Mailbox.UserID = v
	}
	if v := os.Getenv("MAILBOX_PAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			c.Mailbox.PageSize = size
		}
	}
	if v := os.Getenv("MAILBOX_UNREAD_ONLY"); v != "" {
		if unread, err := strconv.ParseBool(v); err == nil {
			c.Mailbox.UnreadOnly = unread
		}
	}

	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
