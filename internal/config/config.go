// Package config provides YAML-based configuration for docq.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments that configure
// everything through the environment are unaffected by a stray config file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQ_CONFIG environment variable
//  3. ~/.docq/config.yaml
//  4. ./docq.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// OpenAI configures the Azure OpenAI chat and embedding deployments.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Cosmos configures the Cosmos DB document store.
	Cosmos CosmosConfig `yaml:"cosmos"`

	// Store selects and configures the document store backend.
	Store StoreConfig `yaml:"store"`

	// Queue configures the ingestion queue transport.
	Queue QueueConfig `yaml:"queue"`

	// Auth configures bearer token verification.
	Auth AuthConfig `yaml:"auth"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// CORSOrigins is a comma-separated allow-list of origins ("*" for dev).
	CORSOrigins string `yaml:"cors_origins"`
}

// OpenAIConfig holds Azure OpenAI settings. The chat deployment answers
// questions; the embeddings deployment vectorises document content.
type OpenAIConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the chat completion deployment name.
	Deployment string `yaml:"deployment"`
	// EmbeddingsDeployment is the embeddings deployment name.
	EmbeddingsDeployment string `yaml:"embeddings_deployment"`
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string `yaml:"api_version"`
}

// CosmosConfig holds Cosmos DB connection settings.
type CosmosConfig struct {
	// Endpoint is the Cosmos DB account endpoint URL.
	Endpoint string `yaml:"endpoint"`
	// Key is the Cosmos DB account key. Prefer env var COSMOS_KEY.
	Key string `yaml:"key"`
	// Database is the Cosmos DB database name.
	Database string `yaml:"database"`
	// Container is the Cosmos DB container name (partition key /userId).
	Container string `yaml:"container"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	// Backend is "cosmos" (default when COSMOS_ENDPOINT is set) or "sqlite".
	Backend string `yaml:"backend"`
	// DBPath is the SQLite database path for the sqlite backend.
	DBPath string `yaml:"db_path"`
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	// ConnectionString is the Azure Storage connection string.
	// Prefer env var AZURE_STORAGE_CONNECTION_STRING.
	ConnectionString string `yaml:"connection_string"`
	// Name is the storage queue name.
	Name string `yaml:"name"`
	// Backend is "azure" (default when a connection string is set) or "memory".
	Backend string `yaml:"backend"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	// JWKSURL is the signing-key discovery endpoint.
	JWKSURL string `yaml:"jwks_url"`
	// Audience is the required token audience.
	Audience string `yaml:"audience"`
	// Issuer is the required token issuer.
	Issuer string `yaml:"issuer"`
	// DevBypass disables verification and injects a synthetic identity.
	// Never enable outside local development.
	DevBypass bool `yaml:"dev_bypass"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CORS_ORIGINS", func(c *Config) string { return c.Server.CORSOrigins }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.OpenAI.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.OpenAI.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.OpenAI.Deployment }},
	{"AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT", func(c *Config) string { return c.OpenAI.EmbeddingsDeployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.OpenAI.APIVersion }},
	{"COSMOS_ENDPOINT", func(c *Config) string { return c.Cosmos.Endpoint }},
	{"COSMOS_KEY", func(c *Config) string { return c.Cosmos.Key }},
	{"COSMOS_DB_NAME", func(c *Config) string { return c.Cosmos.Database }},
	{"COSMOS_CONTAINER_NAME", func(c *Config) string { return c.Cosmos.Container }},
	{"STORE_BACKEND", func(c *Config) string { return c.Store.Backend }},
	{"DOCQ_DB_PATH", func(c *Config) string { return c.Store.DBPath }},
	{"AZURE_STORAGE_CONNECTION_STRING", func(c *Config) string { return c.Queue.ConnectionString }},
	{"AZURE_STORAGE_QUEUE_NAME", func(c *Config) string { return c.Queue.Name }},
	{"QUEUE_BACKEND", func(c *Config) string { return c.Queue.Backend }},
	{"AUTH_JWKS_URL", func(c *Config) string { return c.Auth.JWKSURL }},
	{"AUTH_AUDIENCE", func(c *Config) string { return c.Auth.Audience }},
	{"AUTH_ISSUER", func(c *Config) string { return c.Auth.Issuer }},
	{"AUTH_DEV_BYPASS", func(c *Config) string { return boolStr(c.Auth.DevBypass) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQ_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docq", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docq.yaml"); err == nil {
		return "docq.yaml"
	}

	return ""
}

// FromEnv assembles a Config from environment variables. Call after Load so
// that YAML values have already been applied to the environment.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        envStr("SERVER_HOST", "127.0.0.1"),
			Port:        envInt("SERVER_PORT", 8080),
			CORSOrigins: envStr("CORS_ORIGINS", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:               os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:             os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment:           os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			EmbeddingsDeployment: os.Getenv("AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT"),
			APIVersion:           envStr("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Cosmos: CosmosConfig{
			Endpoint:  os.Getenv("COSMOS_ENDPOINT"),
			Key:       os.Getenv("COSMOS_KEY"),
			Database:  envStr("COSMOS_DB_NAME", "docq"),
			Container: envStr("COSMOS_CONTAINER_NAME", "documents"),
		},
		Store: StoreConfig{
			Backend: os.Getenv("STORE_BACKEND"),
			DBPath:  envStr("DOCQ_DB_PATH", "docq.db"),
		},
		Queue: QueueConfig{
			ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
			Name:             envStr("AZURE_STORAGE_QUEUE_NAME", "doc-ingestion"),
			Backend:          os.Getenv("QUEUE_BACKEND"),
		},
		Auth: AuthConfig{
			JWKSURL:   os.Getenv("AUTH_JWKS_URL"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
			Issuer:    os.Getenv("AUTH_ISSUER"),
			DevBypass: os.Getenv("AUTH_DEV_BYPASS") == "true",
		},
		Logging: LoggingConfig{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
	}
}

// envStr returns the named env var, or fallback if unset or empty.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the integer value of the named env var, or fallback if the
// variable is unset, empty, or not parseable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
