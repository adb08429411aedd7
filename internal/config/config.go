package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	FramingBraces = "braces"
	FramingJSON   = "json"

	StateSourceFile = "file"
	StateSourceDB   = "db"
)

type Config struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	ReadChunkSize  int
	MaxMessageSize int
	Framing        string
	StateFile      string
	StateSource    string

	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	AdminAddr     string
	AdminUser     string
	AdminPassword string
	JWTSecret     string

	LogLevel string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:       getEnv("VENDING_ADDR", "127.0.0.1:22222"),
		Framing:          getEnv("VENDING_FRAMING", FramingBraces),
		StateFile:        getEnv("VENDING_STATE_FILE", ""),
		StateSource:      getEnv("VENDING_STATE_SOURCE", StateSourceFile),
		DatabaseHost:     getEnv("DATABASE_HOST", ""),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseUser:     getEnv("DATABASE_USER", "postgres"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "password"),
		DatabaseName:     getEnv("DATABASE_NAME", "vending"),
		AdminAddr:        getEnv("ADMIN_ADDR", ""),
		AdminUser:        getEnv("ADMIN_USER", "admin"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	timeout, err := time.ParseDuration(getEnv("VENDING_READ_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid VENDING_READ_TIMEOUT: %w", err)
	}
	cfg.ReadTimeout = timeout

	chunk, err := strconv.Atoi(getEnv("VENDING_READ_CHUNK", "4096"))
	if err != nil {
		return nil, fmt.Errorf("invalid VENDING_READ_CHUNK: %w", err)
	}
	cfg.ReadChunkSize = chunk

	maxMessage, err := strconv.Atoi(getEnv("VENDING_MAX_MESSAGE", "65536"))
	if err != nil {
		return nil, fmt.Errorf("invalid VENDING_MAX_MESSAGE: %w", err)
	}
	cfg.MaxMessageSize = maxMessage

	return cfg, nil
}

// DatabaseEnabled reports whether a Postgres host was configured.
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseHost != ""
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.ReadChunkSize <= 0 {
		return fmt.Errorf("read chunk size must be positive, got %d", c.ReadChunkSize)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	switch c.Framing {
	case FramingBraces, FramingJSON:
	default:
		return fmt.Errorf("unknown framing mode %q", c.Framing)
	}
	switch c.StateSource {
	case StateSourceFile:
	case StateSourceDB:
		if !c.DatabaseEnabled() {
			return errors.New("state source 'db' requires DATABASE_HOST")
		}
	default:
		return fmt.Errorf("unknown state source %q", c.StateSource)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
