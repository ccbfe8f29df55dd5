package database

import (
	"errors"
	"time"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	DatabasePath    string        `json:"database_path" mapstructure:"path"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// MigrationsPath overrides the embedded migrations when set
	MigrationsPath string `json:"migrations_path" mapstructure:"migrations_path"`

	// WriteRetryDelay is the pause before the single retry of a failed write
	WriteRetryDelay time.Duration `json:"write_retry_delay" mapstructure:"write_retry_delay"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: SQLite performs optimally with a small pool; reads run
// concurrently in WAL mode while writes go through one goroutine
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/mentorline.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		MigrationsPath:  "",
		WriteRetryDelay: 5 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// Validate ensures the configuration is valid
// TECHNICAL DISCOVERY: Configuration validation prevents runtime failures
// from invalid database settings
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	return nil
}
