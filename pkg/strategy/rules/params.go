// Package rules ships the built-in sampling rule plugins: fixedPoint,
// centerEdge, uniformGrid, and randomSampling. Register wires them into a
// rule registry during process bootstrap.
package rules

import (
	"fmt"

	"github.com/fabworks/wafersampler/pkg/strategy"
)

// Register adds every built-in rule to the registry.
func Register(reg *strategy.RuleRegistry) {
	reg.Register(&FixedPoint{})
	reg.Register(&CenterEdge{})
	reg.Register(&UniformGrid{})
	reg.Register(&RandomSampling{})
}

// floatParam reads a numeric parameter, accepting the types JSON decoding
// produces.
func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	f, err := floatParam(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
	return int(f), nil
}

// pointParam reads a list of (x, y) pairs given either as {"x":..,"y":..}
// objects or as two-element arrays.
func pointParam(params map[string]any, key string) ([][2]int, error) {
	v, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a list of points", key)
	}
	out := make([][2]int, 0, len(list))
	for i, item := range list {
		switch p := item.(type) {
		case map[string]any:
			x, err := floatParam(p, "x", 0)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			y, err := floatParam(p, "y", 0)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			out = append(out, [2]int{int(x), int(y)})
		case []any:
			if len(p) != 2 {
				return nil, fmt.Errorf("%s[%d]: want two coordinates, got %d", key, i, len(p))
			}
			x, okX := asFloat(p[0])
			y, okY := asFloat(p[1])
			if !okX || !okY {
				return nil, fmt.Errorf("%s[%d]: coordinates must be numbers", key, i)
			}
			out = append(out, [2]int{int(x), int(y)})
		default:
			return nil, fmt.Errorf("%s[%d]: unsupported point shape %T", key, i, item)
		}
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
