package config

import (
	"fmt"
	"time"
)

// LoadedConfig holds all configuration loaded from mcpbroker.jsonc, with
// duration strings already parsed.
type LoadedConfig struct {
	Address           string
	SessionTTL        time.Duration
	AllowedOrigins    []string
	AllowedHosts      []string
	AuthEnabled       bool
	RequestsPerSecond float64
	Burst             int
	TaskReapInterval  time.Duration
	EventsBackend     string
	EventsPath        string
	LoggingJSON       bool
	ConfigDir         string
}

// LoadAll loads configuration from mcpbroker.jsonc.
func LoadAll(configDir string) (*LoadedConfig, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}

	unified, err := LoadUnifiedConfig(configPath)
	if err != nil {
		return nil, err
	}

	return unified.ToLoadedConfig()
}

// ToLoadedConfig parses duration strings and produces a LoadedConfig.
func (u *UnifiedConfig) ToLoadedConfig() (*LoadedConfig, error) {
	sessionTTL, err := time.ParseDuration(u.Server.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("server.session_ttl: %w", err)
	}
	reapInterval, err := time.ParseDuration(u.Tasks.ReapInterval)
	if err != nil {
		return nil, fmt.Errorf("tasks.reap_interval: %w", err)
	}

	return &LoadedConfig{
		Address:           u.Server.Address,
		SessionTTL:        sessionTTL,
		AllowedOrigins:    u.Server.AllowedOrigins,
		AllowedHosts:      u.Server.AllowedHosts,
		AuthEnabled:       u.Auth.Enabled,
		RequestsPerSecond: u.Auth.RequestsPerSecond,
		Burst:             u.Auth.Burst,
		TaskReapInterval:  reapInterval,
		EventsBackend:     u.Events.Backend,
		EventsPath:        u.Events.Path,
		LoggingJSON:       u.Logging.JSON,
	}, nil
}

// Validate checks that required configuration is present.
func (c *LoadedConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server address is required")
	}
	if c.EventsBackend == "sqlite" && c.EventsPath == "" {
		return fmt.Errorf("events path is required when events backend is \"sqlite\"")
	}
	return nil
}
