// Package config provides configuration helpers for masterstream commands.
package config

import (
	"os"
	"strconv"
)

// Default server configuration.
const (
	DefaultAddr     = ":8090"
	DefaultLogLevel = "info"
)

// Env returns the value of an environment variable or a default.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt returns an integer environment variable or a default.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvFloat returns a float environment variable or a default.
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// EnvBool returns a boolean environment variable or a default.
func EnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Addr returns the server listen address from MASTERD_ADDR.
func Addr() string {
	return Env("MASTERD_ADDR", DefaultAddr)
}

// LogLevel returns the log level from MASTERD_LOG_LEVEL.
func LogLevel() string {
	return Env("MASTERD_LOG_LEVEL", DefaultLogLevel)
}

// CacheDir returns the disk cache directory from MASTERD_CACHE_DIR.
// Empty means the disk tier is disabled.
func CacheDir() string {
	return Env("MASTERD_CACHE_DIR", "")
}

// MediaDir returns the track media directory from MASTERD_MEDIA_DIR.
// Empty means the built-in synthetic track store is used.
func MediaDir() string {
	return Env("MASTERD_MEDIA_DIR", "")
}
