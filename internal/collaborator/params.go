package collaborator

import (
	"strconv"

	"github.com/vk/medallion/internal/failure"
)

// RequireParam returns a task parameter that must be present. A missing
// parameter is a permanent error: retrying cannot make it appear.
func RequireParam(params map[string]string, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return "", failure.Permanentf("missing required parameter %q", key)
	}
	return v, nil
}

// ParamOr returns a task parameter, or def when it is not set.
func ParamOr(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return def
}

// IntParam parses an optional integer parameter.
func IntParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, failure.Permanentf("parameter %q: %v", key, err)
	}
	return n, nil
}
