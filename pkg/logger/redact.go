package logger

import "strings"

// sensitiveKeys are the field names that must never appear verbatim in a
// log line. Matching is case-insensitive
// and matches on substring so that "user_password" and "AccessToken" are
// caught alongside exact hits.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"authorization",
	"cookie",
	"jwt",
	"api_key",
	"apikey",
	"private_key",
	"credit_card",
	"ssn",
	"aadhar",
}

const redactedPlaceholder = "[REDACTED]"

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Redact walks fields recursively (through nested maps and slices of maps)
// and replaces the value of any sensitive key with a fixed placeholder. It
// returns a new map and never mutates its input, so the same fields value
// can safely be logged and reused elsewhere. Redact is idempotent:
// Redact(Redact(x)) == Redact(x), since an already-redacted value is just
// the placeholder string, itself not a sensitive key match target.
func Redact(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v interface{}) interface{} {
	if isSensitiveKey(key) {
		return redactedPlaceholder
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return Redact(t)
	case []interface{}:
		redacted := make([]interface{}, len(t))
		for i, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				redacted[i] = Redact(m)
			} else {
				redacted[i] = item
			}
		}
		return redacted
	default:
		return v
	}
}

// RedactString returns the placeholder if key is sensitive, else s
// unchanged. Convenience for call sites building zerolog.Event field by
// field rather than from a map.
func RedactString(key, s string) string {
	if isSensitiveKey(key) {
		return redactedPlaceholder
	}
	return s
}
