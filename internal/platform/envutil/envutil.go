package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Bool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntClamped reads an integer env var and clamps it to [min, max].
func IntClamped(name string, def, min, max int) int {
	i := Int(name, def)
	if i < min {
		return min
	}
	if i > max {
		return max
	}
	return i
}

// MillisDuration reads an integer env var holding milliseconds and clamps the
// resulting duration to [min, max].
func MillisDuration(name string, def, min, max time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	d := def
	if v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			d = time.Duration(ms) * time.Millisecond
		}
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
