package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ParseJSON decodes JSON from the request body into the destination.
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseQueryInt extracts an integer query parameter, falling back to the
// default when the parameter is absent.
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryBool extracts a boolean query parameter, nil when absent.
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return &val, nil
}
