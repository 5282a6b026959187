package pipeline

import (
	"fmt"
	"time"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Float returns a numeric param, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, paramErr(key, "number", v)
	}
}

// Int returns an integer param, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, paramErr(key, "integer", v)
		}
		return int(n), nil
	default:
		return 0, paramErr(key, "integer", v)
	}
}

// Bool returns a boolean param, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, paramErr(key, "bool", v)
	}
	return b, nil
}

// Duration returns a duration param given as a string ("25ms"), or def.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: param %s: %v", domain.ErrInvalidConfig, key, err)
		}
		return parsed, nil
	case time.Duration:
		return d, nil
	default:
		return 0, paramErr(key, "duration string", v)
	}
}

// Strings returns a string-list param, or nil when absent.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, paramErr(key, "list of strings", v)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, paramErr(key, "list of strings", v)
	}
}

func paramErr(key, want string, got any) error {
	return fmt.Errorf("%w: param %s: want %s, got %T", domain.ErrInvalidConfig, key, want, got)
}
