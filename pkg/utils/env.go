// Package utils provides shared helpers used across the storage node: env
// lookups with defaults and error wrapping.
package utils

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// envCache remembers non-empty environment values so hot paths (CLI
// middleware runs per command) avoid repeated syscalls.
var envCache sync.Map // map[string]string

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

// ClearEnvCache drops the cached value for key; used by tests that modify
// the environment between lookups.
func ClearEnvCache(key string) {
	envCache.Delete(key)
}

// EnvOrDefault returns the environment value for key, or fallback when the
// variable is unset or empty.
func EnvOrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// EnvOrDefaultInt parses the environment value as an integer, falling back
// when unset, empty or unparsable.
func EnvOrDefaultInt(key string, fallback int) int {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// EnvOrDefaultInt64 is EnvOrDefaultInt for 64-bit values (byte capacities).
func EnvOrDefaultInt64(key string, fallback int64) int64 {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// EnvOrDefaultDuration parses the environment value with time.ParseDuration,
// falling back when unset or unparsable.
func EnvOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := getEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
