package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port              int
	BatchSize         int
	BatchTimeout      time.Duration
	BufferHost        string
	BufferPort        int
	BufferPassword    string
	StoreHost         string
	StorePort         int
	StoreDB           string
	StoreUser         string
	StorePassword     string
	BroadcastInterval time.Duration
	RPSWindow         time.Duration
	LogLevel          string
}

func Load() Config {
	return Config{
		Port:              envInt("PORT", 8000),
		BatchSize:         envInt("BATCH_SIZE", 50),
		BatchTimeout:      time.Duration(envFloat("BATCH_TIMEOUT", 30) * float64(time.Second)),
		BufferHost:        envStr("BUFFER_HOST", "localhost"),
		BufferPort:        envInt("BUFFER_PORT", 6379),
		BufferPassword:    envStr("BUFFER_PASSWORD", ""),
		StoreHost:         envStr("STORE_HOST", "localhost"),
		StorePort:         envInt("STORE_PORT", 5432),
		StoreDB:           envStr("STORE_DB", "messages_db"),
		StoreUser:         envStr("STORE_USER", "ingestor"),
		StorePassword:     envStr("STORE_PASSWORD", "ingestor_password"),
		BroadcastInterval: time.Duration(envInt("BROADCAST_INTERVAL_MS", 500)) * time.Millisecond,
		RPSWindow:         time.Duration(envInt("RPS_WINDOW_SECONDS", 10)) * time.Second,
		LogLevel:          envStr("LOG_LEVEL", "info"),
	}
}

// BufferAddr is the host:port of the metrics store (Redis).
func (c Config) BufferAddr() string {
	return fmt.Sprintf("%s:%d", c.BufferHost, c.BufferPort)
}

// StoreDSN is the Postgres connection string for the relational store.
func (c Config) StoreDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.StoreUser, c.StorePassword, c.StoreHost, c.StorePort, c.StoreDB)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
