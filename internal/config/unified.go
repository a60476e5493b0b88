package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UnifiedConfig is the single configuration file format for mcpbroker.jsonc.
type UnifiedConfig struct {
	Server  ServerSection  `json:"server"`
	Auth    AuthSection    `json:"auth"`
	Tasks   TasksSection   `json:"tasks"`
	Events  EventsSection  `json:"events"`
	Logging LoggingSection `json:"logging"`
}

// ServerSection contains HTTP listener and Streamable HTTP Transport
// security settings.
type ServerSection struct {
	Address        string   `json:"address"`
	SessionTTL     string   `json:"session_ttl"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedHosts   []string `json:"allowed_hosts"`
}

// AuthSection configures the bearer-token store and rate limiter.
type AuthSection struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// TasksSection configures the Task Subsystem's reaper.
type TasksSection struct {
	ReapInterval string `json:"reap_interval"`
}

// EventsSection configures the Streamable HTTP Transport's EventStore.
type EventsSection struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// LoggingSection configures the slog-backed structured logger.
type LoggingSection struct {
	JSON bool `json:"json"`
}

// FindConfigPath returns the path to mcpbroker.jsonc using precedence:
// 1. configDir + /mcpbroker.jsonc (if configDir specified)
// 2. ./config/mcpbroker.jsonc (project-local)
// 3. ~/.mcpbroker/config/mcpbroker.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	candidates := []string{}

	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "mcpbroker.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "mcpbroker.jsonc"))
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".mcpbroker", "config", "mcpbroker.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("mcpbroker.jsonc not found; tried: %v", candidates)
}

// LoadUnifiedConfig loads configuration from a single mcpbroker.jsonc file.
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg UnifiedConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyUnifiedDefaults(&cfg)
	return &cfg, nil
}

func applyUnifiedDefaults(cfg *UnifiedConfig) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.SessionTTL == "" {
		cfg.Server.SessionTTL = "30m"
	}
	if len(cfg.Server.AllowedHosts) == 0 {
		cfg.Server.AllowedHosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	if cfg.Auth.RequestsPerSecond == 0 {
		cfg.Auth.RequestsPerSecond = 10
	}
	if cfg.Auth.Burst == 0 {
		cfg.Auth.Burst = 20
	}

	if cfg.Tasks.ReapInterval == "" {
		cfg.Tasks.ReapInterval = "30s"
	}

	if cfg.Events.Backend == "" {
		cfg.Events.Backend = "memory"
	}
}

// Validate checks that required configuration is present.
func (u *UnifiedConfig) Validate() error {
	if u.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if u.Events.Backend == "sqlite" && u.Events.Path == "" {
		return fmt.Errorf("events.path is required when events.backend is \"sqlite\"")
	}
	return nil
}
