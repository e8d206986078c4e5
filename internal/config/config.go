package config

import "time"

// Config is the root configuration for chime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	App           AppConfig           `yaml:"app"`
	Identity      IdentityConfig      `yaml:"identity"`
	Database      DatabaseConfig      `yaml:"database"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`

	// AllowedOrigins lists the web origins whose app clients may connect
	// to the hub, e.g. "https://chat.example.com". "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AppConfig carries the packaging identity shown to notification clients.
type AppConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// IdentityConfig names the user whose groups are watched. When Groups is
// empty, memberships are loaded from the directory and refreshed on
// RefreshInterval.
type IdentityConfig struct {
	UserID          string        `yaml:"user_id"`
	Groups          []string      `yaml:"groups"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type DirectoryConfig struct {
	PostgresURL string      `yaml:"postgres_url"`
	Cache       CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type RealtimeConfig struct {
	Driver         string `yaml:"driver"` // "postgres" or "nats"
	PostgresURL    string `yaml:"postgres_url"`
	ChannelPrefix  string `yaml:"channel_prefix"`
	InstallTrigger bool   `yaml:"install_trigger"`
	NATSURL        string `yaml:"nats_url"`
	SubjectPrefix  string `yaml:"subject_prefix"`
}

type NotificationsConfig struct {
	Ntfy        NtfyConfig    `yaml:"ntfy"`
	Browser     BrowserConfig `yaml:"browser"`
	Sound       SoundConfig   `yaml:"sound"`
	Haptics     HapticsConfig `yaml:"haptics"`
	DedupWindow time.Duration `yaml:"dedup_window"`
	Delay       time.Duration `yaml:"delay"`

	// PermissionTimeout bounds one permission request, which may wait on
	// a user answering a browser prompt.
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
}

type NtfyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
	Topic   string `yaml:"topic"`
	Token   string `yaml:"token"`
}

type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	Icon    string `yaml:"icon"`
	Badge   string `yaml:"badge"`
}

type SoundConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Player  string `yaml:"player"`
}

type HapticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Style   string `yaml:"style"`
}

type AuthConfig struct {
	APIToken string `yaml:"api_token"`
	DataDir  string `yaml:"data_dir"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		App: AppConfig{
			ID:   "com.techverse.app",
			Name: "Team Techverse",
		},
		Identity: IdentityConfig{
			RefreshInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:          "~/.config/chime/chime.db",
			RetentionDays: 30,
		},
		Directory: DirectoryConfig{
			Cache: CacheConfig{
				TTL: 10 * time.Minute,
			},
		},
		Realtime: RealtimeConfig{
			Driver:        "postgres",
			ChannelPrefix: "messages",
			SubjectPrefix: "chat.messages",
		},
		Notifications: NotificationsConfig{
			Ntfy: NtfyConfig{
				Server: "https://ntfy.sh",
			},
			Browser: BrowserConfig{
				Enabled: true,
				Icon:    "/favicon.jpg",
				Badge:   "/favicon.jpg",
			},
			Sound: SoundConfig{
				Enabled: true,
				Path:    "/usr/share/chime/notification-sound.wav",
				Player:  "paplay",
			},
			Haptics: HapticsConfig{
				Enabled: true,
				Style:   "medium",
			},
			DedupWindow: time.Minute,
			Delay:       100 * time.Millisecond,

			PermissionTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			DataDir: "~/.config/chime",
		},
	}
}
