package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	dbconfig "mentorline/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. MENTORLINE_HTTP_PORT
const EnvPrefix = "MENTORLINE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and chat/call logic
type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Chat      *ChatConfig      `mapstructure:"chat"`
	Call      *CallConfig      `mapstructure:"call"`
	Presence  *PresenceConfig  `mapstructure:"presence"`
	Log       *LogConfig       `mapstructure:"log"`
	Metrics   *MetricsConfig   `mapstructure:"metrics"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	WriteRetryDelay time.Duration `mapstructure:"write_retry_delay"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Host         string        `mapstructure:"host"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// ChatConfig bounds how fast one sender may post
type ChatConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// CallConfig controls call-record dedup and unanswered-call expiry
// FUNCTIONAL DISCOVERY: RingTimeout of 0 leaves Ringing rooms open until a
// party answers, rejects or leaves
type CallConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

// PresenceConfig selects where last-active timestamps live
type PresenceConfig struct {
	Backend        string        `mapstructure:"backend"` // "sqlite" or "redis"
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	RedisKeyPrefix string        `mapstructure:"redis_key_prefix"`
	RedisTTL       time.Duration `mapstructure:"redis_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Presence backends
const (
	PresenceBackendSQLite = "sqlite"
	PresenceBackendRedis  = "redis"
)

// DefaultConfig returns production-ready defaults
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:            "./mentorline.db",
			Timeout:         30 * time.Second,
			MaxConnections:  10,
			WriteRetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			MaxMessageBytes: 64 * 1024,
		},
		Chat: &ChatConfig{
			RateLimit:  100,
			RateWindow: time.Minute,
		},
		Call: &CallConfig{
			DedupWindow: 2 * time.Minute,
			RingTimeout: 45 * time.Second,
		},
		Presence: &PresenceConfig{
			Backend:        PresenceBackendSQLite,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "mentorline:presence:",
		},
		Log: &LogConfig{
			Level: "info",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.migrations_path", d.Database.MigrationsPath)
	v.SetDefault("database.write_retry_delay", d.Database.WriteRetryDelay)

	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.host", d.HTTP.Host)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.max_message_bytes", d.WebSocket.MaxMessageBytes)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("chat.rate_limit", d.Chat.RateLimit)
	v.SetDefault("chat.rate_window", d.Chat.RateWindow)

	v.SetDefault("call.dedup_window", d.Call.DedupWindow)
	v.SetDefault("call.ring_timeout", d.Call.RingTimeout)

	v.SetDefault("presence.backend", d.Presence.Backend)
	v.SetDefault("presence.redis_addr", d.Presence.RedisAddr)
	v.SetDefault("presence.redis_password", d.Presence.RedisPassword)
	v.SetDefault("presence.redis_db", d.Presence.RedisDB)
	v.SetDefault("presence.redis_key_prefix", d.Presence.RedisKeyPrefix)
	v.SetDefault("presence.redis_ttl", d.Presence.RedisTTL)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Load reads configuration from the optional file at path and the environment
// FUNCTIONAL DISCOVERY: Precedence is environment > file > defaults, so a
// container can override a baked-in file without editing it
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values for slices arrive as one comma separated string
	if origins := v.GetStringSlice("websocket.allowed_origins"); len(origins) == 1 && strings.Contains(origins[0], ",") {
		cfg.WebSocket.AllowedOrigins = strings.Split(origins[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return fmt.Errorf("database write retry delay cannot be negative")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateWindow <= 0 {
		return fmt.Errorf("chat rate limit and window must be positive")
	}

	if c.Call == nil {
		return fmt.Errorf("call configuration is required")
	}
	if c.Call.DedupWindow < 0 {
		return fmt.Errorf("call dedup window cannot be negative")
	}
	if c.Call.RingTimeout < 0 {
		return fmt.Errorf("call ring timeout cannot be negative")
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	switch c.Presence.Backend {
	case PresenceBackendSQLite:
	case PresenceBackendRedis:
		if c.Presence.RedisAddr == "" {
			return fmt.Errorf("presence redis address cannot be empty")
		}
	default:
		return fmt.Errorf("presence backend must be %q or %q", PresenceBackendSQLite, PresenceBackendRedis)
	}

	if c.Log == nil || c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

// DatabaseSettings converts the database section into the store configuration
func (c *Config) DatabaseSettings() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.ConnMaxLifetime = c.Database.Timeout
	db.ConnMaxIdleTime = c.Database.Timeout / 3
	db.MigrationsPath = c.Database.MigrationsPath
	db.WriteRetryDelay = c.Database.WriteRetryDelay
	db.WriteTimeout = c.Database.Timeout
	return db
}
