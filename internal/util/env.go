// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, ok := ParseBool(val)
	if !ok {
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return b
}

// ParseBool reports the boolean meaning of a loosely formatted value.
// The second result is false when the value is not recognised.
func ParseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on", "y", "checked":
		return true, true
	case "false", "0", "no", "off", "n", "unchecked":
		return false, true
	default:
		return false, false
	}
}

// EnvOrDefault returns the environment variable value or def when unset.
func EnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
