package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/sahayak/internal/domain"
)

func stringArg(args Args, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgument, key, raw)
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidArgument, key)
	}
	return s, nil
}

func intArg(args Args, key string) (int, error) {
	switch n := args[key].(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		if n == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, key, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidArgument, key, n)
	}
}

func stringsArg(args Args, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must hold strings, got %T", ErrInvalidArgument, key, x)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidArgument, key, v)
	}
}

// profileArg accepts either a typed snapshot or a loosely typed JSON map.
func profileArg(args Args, key string) (map[domain.Field]domain.Value, error) {
	switch p := args[key].(type) {
	case nil:
		return map[domain.Field]domain.Value{}, nil
	case map[domain.Field]domain.Value:
		return p, nil
	case map[string]any:
		out := make(map[domain.Field]domain.Value, len(p))
		for k, raw := range p {
			v, err := domain.Coerce(domain.Field(k), raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			out[domain.Field(k)] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidArgument, key, p)
	}
}
