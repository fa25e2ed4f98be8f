package registry

import (
	"fmt"
	"time"
)

// Type-safe extraction helpers for the Custom map of an extractor
// config. They absorb the loose typing YAML and JSON decoding produce
// (numbers as float64, durations as strings) so factories stay short.

// GetStringConfig returns custom[key] as a non-empty string, or def.
func GetStringConfig(custom map[string]any, key, def string) string {
	if custom == nil {
		return def
	}
	if val, ok := custom[key].(string); ok && val != "" {
		return val
	}
	return def
}

// GetIntConfig returns custom[key] as an int, accepting float64 too.
func GetIntConfig(custom map[string]any, key string, def int) int {
	if custom == nil {
		return def
	}
	if val, ok := custom[key].(int); ok {
		return val
	}
	if val, ok := custom[key].(float64); ok {
		return int(val)
	}
	return def
}

// GetBoolConfig returns custom[key] as a bool, or def.
func GetBoolConfig(custom map[string]any, key string, def bool) bool {
	if custom == nil {
		return def
	}
	if val, ok := custom[key].(bool); ok {
		return val
	}
	return def
}

// GetFloat64Config returns custom[key] as a float64, accepting int too.
func GetFloat64Config(custom map[string]any, key string, def float64) float64 {
	if custom == nil {
		return def
	}
	if val, ok := custom[key].(float64); ok {
		return val
	}
	if val, ok := custom[key].(int); ok {
		return float64(val)
	}
	return def
}

// GetDurationConfig returns custom[key] as a duration. Accepts
// time.Duration, integer or float nanoseconds, or a string like "5s".
func GetDurationConfig(custom map[string]any, key string, def time.Duration) time.Duration {
	if custom == nil {
		return def
	}
	val, exists := custom[key]
	if !exists {
		return def
	}
	switch t := val.(type) {
	case time.Duration:
		return t
	case int64:
		return time.Duration(t)
	case float64:
		return time.Duration(t)
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	}
	return def
}

// ValidateRequiredString fails when a required field is empty.
func ValidateRequiredString(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required and cannot be empty", fieldName)
	}
	return nil
}

// ValidatePositiveInt fails when value is not > 0.
func ValidatePositiveInt(fieldName string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", fieldName, value)
	}
	return nil
}

// ValidatePositiveDuration fails when value is not > 0.
func ValidatePositiveDuration(fieldName string, value time.Duration) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %v", fieldName, value)
	}
	return nil
}
