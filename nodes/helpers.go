package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// configString reads a required, non-empty string from a config map.
func configString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidConfig, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidConfig, key)
	}
	return s, nil
}

// optionalString reads a string that may be absent.
func optionalString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidConfig, key)
	}
	return s, nil
}

// configDuration reads a duration written either as a Go duration string
// ("1.5s", "250ms") or as a number of seconds.
func configDuration(m map[string]any, key string) (time.Duration, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidConfig, key)
	}
	var d time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrInvalidConfig, key, err)
			}
			parsed = time.Duration(secs * float64(time.Second))
		}
		d = parsed
	default:
		secs, ok := toFloat64(v)
		if !ok {
			return 0, fmt.Errorf("%w: %q must be a duration, got %T", ErrInvalidConfig, key, raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %q must not be negative", ErrInvalidConfig, key)
	}
	return d, nil
}
