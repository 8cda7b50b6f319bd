package platform

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys are key substrings whose values never leave the client in
// an error body.
var sensitiveKeys = []string{
	"token",
	"secret",
	"password",
	"authorization",
}

const redactedValue = "[REDACTED]"

// redactBody masks sensitive fields in a JSON error body. Non-JSON bodies
// are returned unchanged.
func redactBody(body string) string {
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return body
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body
	}
	v, changed := redactValue(v)
	if !changed {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return string(out)
}

func redactValue(v any) (any, bool) {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if isSensitive(k) {
				t[k] = redactedValue
				changed = true
				continue
			}
			if nv, c := redactValue(val); c {
				t[k] = nv
				changed = true
			}
		}
	case []any:
		for i, val := range t {
			if nv, c := redactValue(val); c {
				t[i] = nv
				changed = true
			}
		}
	}
	return v, changed
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range sensitiveKeys {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
