package tools

import (
	"fmt"
	"strconv"
)

// Args are the decoded JSON arguments of a tool call.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", fmt.Errorf("argument %s must be a string, got %T", key, v)
	}
}

// OptionalString returns a string argument or def when absent or empty.
func (a Args) OptionalString(key, def string) string {
	s, err := a.String(key)
	if err != nil || s == "" {
		return def
	}
	return s
}
