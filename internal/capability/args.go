package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Validate checks args against the capability's parameter schema and returns
// a copy with numeric values normalized (JSON numbers arrive as float64;
// integer parameters are converted to int). Undeclared arguments are kept.
func Validate(c Capability, args Args) (Args, error) {
	out := make(Args, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range c.Params {
		v, present := out[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s: missing required parameter %q", ErrInvalidArguments, c.Name, p.Name)
			}
			continue
		}

		nv, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: parameter %q: %v", ErrInvalidArguments, c.Name, p.Name, err)
		}
		out[p.Name] = nv
	}

	return out, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInteger:
		return toInt(v)
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// String returns a string argument.
func (a Args) String(name string) (string, error) {
	s, ok := a[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", ErrInvalidArguments, name)
	}
	return s, nil
}

// Int returns an integer argument.
func (a Args) Int(name string) (int, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q is missing", ErrInvalidArguments, name)
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidArguments, name, err)
	}
	return i, nil
}

// Failure is a capability-reported inability to satisfy a request, as
// opposed to a transport or infrastructure error.
type Failure struct {
	Reason string
	Result Result
}

func (f *Failure) Error() string {
	return f.Reason
}

// Fail returns a *Failure with an optional structured result.
func Fail(reason string, result Result) error {
	return &Failure{Reason: reason, Result: result}
}

// IsFailure reports whether err is, or wraps, a *Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
