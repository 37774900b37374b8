// Package util reads TaskPipe settings from the environment.
//
// Every helper falls back to the caller's default when the variable is unset or malformed,
// so a bad value never stops the service from starting.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// StringEnv returns the trimmed value of key, or fallback when it is unset or blank.
func StringEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// ParseBoolEnv reads key as a boolean. true/1/yes/on and false/0/no/off are accepted in
// any case; anything else yields defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return defaultValue
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("util.ParseBoolEnv: ignoring invalid boolean", "key", key, "value", val, "default", defaultValue)
	return defaultValue
}

// ParseDurationEnv reads key with time.ParseDuration ("30m", "24h"). Zero, negative and
// malformed values yield defaultValue.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("util.ParseDurationEnv: ignoring invalid duration", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}
