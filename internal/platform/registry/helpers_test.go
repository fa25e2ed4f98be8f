// internal/platform/registry/helpers_test.go
package registry

import (
	"testing"
	"time"

	"strata/internal/testutil"
)

func TestGetStringConfig(t *testing.T) {
	custom := map[string]any{"dsn": "server=localhost", "empty": ""}
	testutil.AssertEqual(t, GetStringConfig(custom, "dsn", "def"), "server=localhost", "present")
	testutil.AssertEqual(t, GetStringConfig(custom, "empty", "def"), "def", "empty string falls back")
	testutil.AssertEqual(t, GetStringConfig(custom, "missing", "def"), "def", "missing key")
	testutil.AssertEqual(t, GetStringConfig(nil, "dsn", "def"), "def", "nil map")
}

func TestGetIntConfig(t *testing.T) {
	// YAML decodes small numbers as int, JSON as float64; both must work.
	custom := map[string]any{"a": 7, "b": float64(9), "c": "not a number"}
	testutil.AssertEqual(t, GetIntConfig(custom, "a", 1), 7, "int value")
	testutil.AssertEqual(t, GetIntConfig(custom, "b", 1), 9, "float64 value")
	testutil.AssertEqual(t, GetIntConfig(custom, "c", 1), 1, "wrong type falls back")
	testutil.AssertEqual(t, GetIntConfig(custom, "missing", 1), 1, "missing key")
}

func TestGetBoolConfig(t *testing.T) {
	custom := map[string]any{"on": true, "off": false, "s": "true"}
	testutil.AssertTrue(t, GetBoolConfig(custom, "on", false), "true value")
	testutil.AssertFalse(t, GetBoolConfig(custom, "off", true), "false value")
	testutil.AssertTrue(t, GetBoolConfig(custom, "s", true), "string falls back")
}

func TestGetFloat64Config(t *testing.T) {
	custom := map[string]any{"rate": 2.5, "burst": 3}
	testutil.AssertEqual(t, GetFloat64Config(custom, "rate", 1.0), 2.5, "float value")
	testutil.AssertEqual(t, GetFloat64Config(custom, "burst", 1.0), 3.0, "int value")
	testutil.AssertEqual(t, GetFloat64Config(custom, "missing", 1.0), 1.0, "missing key")
}

func TestGetDurationConfig(t *testing.T) {
	custom := map[string]any{
		"d": 5 * time.Second,
		"s": "90s",
		"n": float64(time.Minute),
		"x": "not a duration",
	}
	testutil.AssertEqual(t, GetDurationConfig(custom, "d", time.Second), 5*time.Second, "duration value")
	testutil.AssertEqual(t, GetDurationConfig(custom, "s", time.Second), 90*time.Second, "parsed string")
	testutil.AssertEqual(t, GetDurationConfig(custom, "n", time.Second), time.Minute, "numeric nanoseconds")
	testutil.AssertEqual(t, GetDurationConfig(custom, "x", time.Second), time.Second, "unparseable falls back")
	testutil.AssertEqual(t, GetDurationConfig(nil, "d", time.Second), time.Second, "nil map")
}

func TestValidators(t *testing.T) {
	testutil.AssertNoError(t, ValidateRequiredString("dsn", "x"), "non-empty ok")
	testutil.AssertError(t, ValidateRequiredString("dsn", ""), "empty rejected")

	testutil.AssertNoError(t, ValidatePositiveInt("batch", 10), "positive ok")
	testutil.AssertError(t, ValidatePositiveInt("batch", 0), "zero rejected")

	testutil.AssertNoError(t, ValidatePositiveDuration("timeout", time.Second), "positive ok")
	testutil.AssertError(t, ValidatePositiveDuration("timeout", -time.Second), "negative rejected")
}
