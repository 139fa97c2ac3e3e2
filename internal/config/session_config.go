package config

import (
	"os"
	"path/filepath"
	"time"
)

type SessionConfig interface {
	GetSessionStore() string
	GetSessionFile() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetSessionKeyPrefix() string
	GetSessionTTL() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionStore selects the session persistence backend: memory, file or redis.
func (Session) GetSessionStore() string {
	return GetEnv("SESSION_STORE", "file")
}

func (Session) GetSessionFile() string {
	if f := os.Getenv("SESSION_FILE"); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".crashctl", "session.yaml")
	}
	return filepath.Join(home, ".crashctl", "session.yaml")
}

func (Session) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Session) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Session) GetRedisDB() int {
	return GetInt("REDIS_DB", 0)
}

func (Session) GetSessionKeyPrefix() string {
	return GetEnv("SESSION_KEY_PREFIX", "crashapi:session:")
}

// GetSessionTTL bounds how long persisted tokens live in redis. Zero means no expiry.
func (Session) GetSessionTTL() time.Duration {
	return GetDuration("SESSION_TTL", 0)
}
