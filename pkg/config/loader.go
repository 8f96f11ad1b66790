package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ADSYNC_MANAGER_ACCOUNT_ID
// or ADSYNC_API_RATE_LIMIT_PER_SEC.
const EnvPrefix = "ADSYNC"

// Load reads a JSON or YAML config file. ${VAR} references are substituted
// from the environment before parsing, and ADSYNC_* variables override keys.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, configType(filePath))
}

// Parse parses config content of the given type ("json" or "yaml").
func Parse(data []byte, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)

	content := substituteEnvVars(string(data))
	if err := v.ReadConfig(bytes.NewReader([]byte(content))); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", configType, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	return cfg, nil
}

// WriteYAML renders cfg as YAML
func WriteYAML(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	defaults := NewConfig()
	for key, value := range map[string]interface{}{
		"developer_token":                   "",
		"oauth_client_id":                   "",
		"oauth_client_secret":               "",
		"refresh_token":                     "",
		"manager_account_id":                "",
		"account_ids":                       []string{},
		"start_date":                        "",
		"api.version":                       defaults.API.Version,
		"api.base_url":                      defaults.API.BaseURL,
		"api.token_url":                     "",
		"api.request_timeout":               defaults.API.RequestTimeout,
		"api.rate_limit_per_sec":            defaults.API.RateLimitPerSec,
		"state_backend.type":                defaults.StateBackend.Type,
		"state_backend.path":                "",
		"state_backend.bucket":              "",
		"state_backend.key":                 defaults.StateBackend.Key,
		"state_backend.region":              "",
		"state_backend.credentials_file":    "",
		"observability.log_level":           defaults.Observability.LogLevel,
		"observability.log_encoding":        defaults.Observability.LogEncoding,
		"observability.enable_tracing":      defaults.Observability.EnableTracing,
		"observability.tracing_sample_rate": defaults.Observability.TracingSampleRate,
		"observability.metrics_addr":        "",
	} {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// query_limit has no default: an absent key must stay nil
	_ = v.BindEnv("query_limit")

	return v
}

func configType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
