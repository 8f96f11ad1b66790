// Package config provides the tap configuration for adsync.
//
// The configuration is organized into logical sections:
//   - top level: platform credentials and the account selection keys
//     (manager_account_id, account_ids, query_limit)
//   - API: endpoint, version, timeouts and request pacing
//   - StateBackend: where the checkpoint is persisted between runs
//   - Observability: logging, tracing and metrics
//
// Example usage:
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultAPIVersion is the Google Ads REST API version used when none is configured
	DefaultAPIVersion = "v21"
	// DefaultBaseURL is the Google Ads REST endpoint
	DefaultBaseURL = "https://googleads.googleapis.com"

	// DateLayout is the format of start_date and date bookmarks
	DateLayout = "2006-01-02"

	// StateBackendFile persists state to a local JSON file
	StateBackendFile = "file"
	// StateBackendGCS persists state to a Google Cloud Storage object
	StateBackendGCS = "gcs"
	// StateBackendS3 persists state to an S3 object
	StateBackendS3 = "s3"
)

// Config is the tap configuration. Field names follow the JSON config keys.
type Config struct {
	// Platform credentials
	DeveloperToken    string `mapstructure:"developer_token" yaml:"developer_token" json:"developer_token"`
	OAuthClientID     string `mapstructure:"oauth_client_id" yaml:"oauth_client_id" json:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret" yaml:"oauth_client_secret" json:"oauth_client_secret"`
	RefreshToken      string `mapstructure:"refresh_token" yaml:"refresh_token" json:"refresh_token"`

	// ManagerAccountID is the optional root of the account hierarchy traversal.
	// It is also the login customer ID used for every request.
	ManagerAccountID string `mapstructure:"manager_account_id" yaml:"manager_account_id" json:"manager_account_id"`
	// AccountIDs is the optional allow-list of customer IDs to sync
	AccountIDs []string `mapstructure:"account_ids" yaml:"account_ids" json:"account_ids"`
	// QueryLimit is kept raw; ParseQueryLimit interprets it
	QueryLimit interface{} `mapstructure:"query_limit" yaml:"query_limit,omitempty" json:"query_limit,omitempty"`
	// StartDate (YYYY-MM-DD) is the first date extracted by incremental
	// streams that have no bookmark yet
	StartDate string `mapstructure:"start_date" yaml:"start_date,omitempty" json:"start_date,omitempty"`

	API           APIConfig           `mapstructure:"api" yaml:"api" json:"api"`
	StateBackend  StateBackendConfig  `mapstructure:"state_backend" yaml:"state_backend" json:"state_backend"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`
}

// APIConfig contains the platform transport settings
type APIConfig struct {
	// Version is the REST API version path segment (e.g. "v21")
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	// BaseURL is the REST endpoint
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	// TokenURL overrides the Google OAuth2 token endpoint
	TokenURL string `mapstructure:"token_url" yaml:"token_url,omitempty" json:"token_url,omitempty"`
	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	// RateLimitPerSec paces requests (0 = unlimited)
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// StateBackendConfig selects the durable checkpoint store
type StateBackendConfig struct {
	// Type is one of file, gcs, s3. Empty disables durable persistence;
	// state is then only emitted as STATE messages.
	Type            string `mapstructure:"type" yaml:"type" json:"type"`
	Path            string `mapstructure:"path" yaml:"path" json:"path"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Key             string `mapstructure:"key" yaml:"key" json:"key"`
	Region          string `mapstructure:"region" yaml:"region" json:"region"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
}

// ObservabilityConfig contains logging, tracing and metrics settings
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogEncoding       string  `mapstructure:"log_encoding" yaml:"log_encoding" json:"log_encoding"`
	EnableTracing     bool    `mapstructure:"enable_tracing" yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// MetricsAddr serves Prometheus metrics when set (e.g. ":9102")
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
}

// NewConfig creates a Config with defaults applied
func NewConfig() *Config {
	return &Config{
		API: APIConfig{
			Version:        DefaultAPIVersion,
			BaseURL:        DefaultBaseURL,
			RequestTimeout: 30 * time.Second,
		},
		StateBackend: StateBackendConfig{
			Key: "adsync/state.json",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.DeveloperToken == "" {
		return fmt.Errorf("developer_token is required")
	}
	if c.OAuthClientID == "" || c.OAuthClientSecret == "" {
		return fmt.Errorf("oauth_client_id and oauth_client_secret are required")
	}
	if c.RefreshToken == "" {
		return fmt.Errorf("refresh_token is required")
	}
	if c.ManagerAccountID != "" && !isCustomerID(c.ManagerAccountID) {
		return fmt.Errorf("manager_account_id %q is not a customer ID", c.ManagerAccountID)
	}
	for _, id := range c.AccountIDs {
		if !isCustomerID(id) {
			return fmt.Errorf("account_ids entry %q is not a customer ID", id)
		}
	}
	if c.StartDate != "" {
		if _, err := time.Parse(DateLayout, c.StartDate); err != nil {
			return fmt.Errorf("start_date %q must be formatted as YYYY-MM-DD", c.StartDate)
		}
	}
	if c.API.RateLimitPerSec < 0 {
		return fmt.Errorf("api.rate_limit_per_sec cannot be negative")
	}

	switch c.StateBackend.Type {
	case "":
	case StateBackendFile:
		if c.StateBackend.Path == "" {
			return fmt.Errorf("state_backend.path is required for the file backend")
		}
	case StateBackendGCS, StateBackendS3:
		if c.StateBackend.Bucket == "" || c.StateBackend.Key == "" {
			return fmt.Errorf("state_backend.bucket and state_backend.key are required for the %s backend", c.StateBackend.Type)
		}
	default:
		return fmt.Errorf("unknown state_backend.type %q", c.StateBackend.Type)
	}
	return nil
}

// HasManagerRoot reports whether a hierarchy root is configured
func (c *Config) HasManagerRoot() bool {
	return c.ManagerAccountID != ""
}

// Redacted returns a copy with secrets masked, for display
func (c *Config) Redacted() *Config {
	out := *c
	out.AccountIDs = append([]string(nil), c.AccountIDs...)
	for _, s := range []*string{&out.DeveloperToken, &out.OAuthClientSecret, &out.RefreshToken} {
		if *s != "" {
			*s = "****"
		}
	}
	return &out
}

// normalize canonicalizes customer IDs ("123-456-7890" -> "1234567890")
func (c *Config) normalize() {
	c.ManagerAccountID = NormalizeCustomerID(c.ManagerAccountID)

	ids := make([]string, 0, len(c.AccountIDs))
	for _, id := range c.AccountIDs {
		if id = NormalizeCustomerID(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.AccountIDs = ids
}

// NormalizeCustomerID strips whitespace and dashes from a customer ID
func NormalizeCustomerID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(id))
}

func isCustomerID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
