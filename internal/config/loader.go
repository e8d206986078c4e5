package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/chime/chime.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chime", "chime.yaml"))
	}

	paths = append(paths, "chime.yaml")

	if envPath := os.Getenv("CHIME_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/chime/chime.yaml < ~/.config/chime/chime.yaml < ./chime.yaml < $CHIME_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("CHIME_NTFY_TOKEN"); token != "" {
		cfg.Notifications.Ntfy.Token = token
	}
	if token := os.Getenv("CHIME_API_TOKEN"); token != "" {
		cfg.Auth.APIToken = token
	}
	if url := os.Getenv("CHIME_DATABASE_URL"); url != "" {
		cfg.Directory.PostgresURL = url
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Realtime.Driver {
	case "postgres":
		if cfg.Realtime.PostgresURL == "" {
			cfg.Realtime.PostgresURL = cfg.Directory.PostgresURL
		}
	case "nats":
		if cfg.Realtime.NATSURL == "" {
			return fmt.Errorf("realtime.nats_url is required when realtime.driver is nats")
		}
	default:
		return fmt.Errorf("realtime.driver must be postgres or nats, got %q", cfg.Realtime.Driver)
	}

	if cfg.Notifications.Ntfy.Enabled && cfg.Notifications.Ntfy.Topic == "" {
		return fmt.Errorf("notifications.ntfy.topic is required when ntfy is enabled")
	}

	if cfg.Notifications.DedupWindow < 0 {
		return fmt.Errorf("notifications.dedup_window must not be negative")
	}

	if cfg.Notifications.PermissionTimeout <= 0 {
		return fmt.Errorf("notifications.permission_timeout must be positive")
	}

	for _, o := range cfg.Server.AllowedOrigins {
		if o != "*" && !strings.Contains(o, "://") {
			return fmt.Errorf("server.allowed_origins: %q must be \"*\" or scheme://host[:port]", o)
		}
	}

	if cfg.Identity.RefreshInterval < 0 {
		return fmt.Errorf("identity.refresh_interval must not be negative")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Auth.DataDir = ExpandHome(cfg.Auth.DataDir)
	cfg.Notifications.Sound.Path = ExpandHome(cfg.Notifications.Sound.Path)

	return nil
}
