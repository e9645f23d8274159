// Package config loads service configuration from YAML with environment
// overrides. A capability with incomplete configuration is disabled on its
// own; it never takes down the whole process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError reports missing identity or credentials for one
// capability. Fatal for that capability only.
type ConfigurationError struct {
	Capability string
	Missing    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Capability, e.Missing)
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Vertex     VertexConfig     `yaml:"vertex"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Security   SecurityConfig   `yaml:"security"`
	ServiceNow ServiceNowConfig `yaml:"servicenow"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`
	// AllowedOrigins are the CORS origins. "*" allows everything.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// VertexConfig holds the upstream agent runtime settings.
type VertexConfig struct {
	// Project is the GCP project id.
	Project string `yaml:"project"`
	// Location is the Vertex AI region.
	Location string `yaml:"location"`
	// Environment tags the deployment (dev/stag/prod) and feeds the
	// default agent display name.
	Environment string `yaml:"environment"`
	// AgentDisplayName is the display name of the deployed agent.
	// Defaults to "agentgate-agent-<environment>".
	AgentDisplayName string `yaml:"agent_display_name"`
	// Backend selects the upstream implementation: "engine" for Agent
	// Engine, "gemini" for the direct-model development backend.
	Backend string `yaml:"backend"`
	// Model is the model used by the gemini backend.
	Model string `yaml:"model"`
}

// SessionsConfig holds session-store settings.
type SessionsConfig struct {
	// Store selects the backend: "memory", "redis", or "firestore".
	Store string `yaml:"store"`
	// TTL expires mappings, e.g. "24h". Empty keeps them forever,
	// matching the original service.
	TTL string `yaml:"ttl"`
	// Redis holds redis backend settings.
	Redis RedisConfig `yaml:"redis"`
	// FirestoreCollection is the collection for the firestore backend.
	FirestoreCollection string `yaml:"firestore_collection"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecurityConfig holds the Firebase signup policy settings.
type SecurityConfig struct {
	// Enabled turns the security endpoints on.
	Enabled bool `yaml:"enabled"`
	// AllowedDomains are the email domains permitted for Google OAuth
	// signups outside production.
	AllowedDomains []string `yaml:"allowed_domains"`
}

// ServiceNowConfig holds the ticketing wrapper settings.
type ServiceNowConfig struct {
	// InstanceURL is the ServiceNow instance base URL. Empty disables
	// the tool endpoints.
	InstanceURL string `yaml:"instance_url"`
	// AuthType selects the auth scheme: "basic", "oauth", or "api_key".
	AuthType string `yaml:"auth_type"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// OAuth password-grant client settings.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	// API key settings.
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`
	// Timeout bounds each API request, e.g. "30s".
	Timeout string `yaml:"timeout"`
	// RequestsPerSecond is the client-side rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Vertex: VertexConfig{
			Location:    "europe-southwest1",
			Environment: "dev",
			Backend:     "engine",
			Model:       "gemini-1.5-flash",
		},
		Sessions: SessionsConfig{
			Store:               "memory",
			FirestoreCollection: "agent_sessions",
		},
		Security: SecurityConfig{
			Enabled:        true,
			AllowedDomains: []string{"u-factor.io", "deloitte.pt"},
		},
		ServiceNow: ServiceNowConfig{
			AuthType:          "basic",
			APIKeyHeader:      "x-sn-apikey",
			Timeout:           "30s",
			RequestsPerSecond: 5,
		},
	}
}

// Load reads the YAML file at path (if it exists) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Vertex.AgentDisplayName == "" {
		cfg.Vertex.AgentDisplayName = "agentgate-agent-" + cfg.Vertex.Environment
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		c.Vertex.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		c.Vertex.Location = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Vertex.Environment = v
	}
	if v := os.Getenv("AGENT_DISPLAY_NAME"); v != "" {
		c.Vertex.AgentDisplayName = v
	}
	if v := os.Getenv("AGENT_BACKEND"); v != "" {
		c.Vertex.Backend = v
	}
	if v := os.Getenv("SESSION_STORE"); v != "" {
		c.Sessions.Store = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Sessions.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Sessions.Redis.Password = v
	}
	if v := os.Getenv("SERVICENOW_INSTANCE_URL"); v != "" {
		c.ServiceNow.InstanceURL = v
	}
	if v := os.Getenv("SERVICENOW_USERNAME"); v != "" {
		c.ServiceNow.Username = v
	}
	if v := os.Getenv("SERVICENOW_PASSWORD"); v != "" {
		c.ServiceNow.Password = v
	}
	if v := os.Getenv("SERVICENOW_CLIENT_ID"); v != "" {
		c.ServiceNow.ClientID = v
	}
	if v := os.Getenv("SERVICENOW_CLIENT_SECRET"); v != "" {
		c.ServiceNow.ClientSecret = v
	}
	if v := os.Getenv("SERVICENOW_API_KEY"); v != "" {
		c.ServiceNow.APIKey = v
	}
}

// SessionTTL parses the configured session TTL. Empty or invalid means no
// expiry.
func (c SessionsConfig) SessionTTL() time.Duration {
	if c.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// RequestTimeout parses the configured ServiceNow timeout, defaulting to
// 30 seconds.
func (c ServiceNowConfig) RequestTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IsProduction reports whether this deployment is production: either the
// environment says so or the project id carries a prod marker.
func (c Config) IsProduction() bool {
	if strings.EqualFold(c.Vertex.Environment, "prod") {
		return true
	}
	return strings.Contains(strings.ToLower(c.Vertex.Project), "prod")
}
