package env

import (
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
)

// StringFromEnv returns the value of the environment variable or the default when unset or empty
func StringFromEnv(key string, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

// DurationFromEnv parses the environment variable as a duration, falling back to the default on absence or error
func DurationFromEnv(log logr.Logger, key string, defaultValue time.Duration) time.Duration {
	str, ok := os.LookupEnv(key)
	if !ok || str == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		log.Info("Invalid duration in environment, using default", "key", key, "value", str, "default", defaultValue)
		return defaultValue
	}
	return d
}

// ParseNumFromEnv parses the environment variable as an int within [min, max], falling back to the default otherwise
func ParseNumFromEnv(log logr.Logger, key string, defaultValue, min, max int) int {
	str, ok := os.LookupEnv(key)
	if !ok || str == "" {
		return defaultValue
	}
	num, err := strconv.Atoi(str)
	if err != nil || num < min || num > max {
		log.Info("Invalid number in environment, using default", "key", key, "value", str, "default", defaultValue)
		return defaultValue
	}
	return num
}

// ParseBoolFromEnv parses the environment variable as a bool, falling back to the default on absence or error
func ParseBoolFromEnv(key string, defaultValue bool) bool {
	str, ok := os.LookupEnv(key)
	if !ok || str == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(str)
	if err != nil {
		return defaultValue
	}
	return b
}
