package config

import (
	"regexp"
	"strings"
)

// sensitiveKeyRegex matches key names whose values must never appear in
// logs or display surfaces.
var sensitiveKeyRegex = regexp.MustCompile(`(?i)(KEY|PASSWORD|SECRET|TOKEN|CREDENTIAL)`)

// IsSensitiveKey reports whether values under key must be redacted.
// Schema entries marked Sensitive are always redacted; unknown keys fall
// back to name-pattern matching.
func IsSensitiveKey(key string) bool {
	if entry, ok := schemaByKey()[key]; ok && entry.Sensitive {
		return true
	}
	return sensitiveKeyRegex.MatchString(key)
}

// Redact masks a sensitive value, revealing at most the last 4 characters.
// Short values are fully masked. Non-sensitive keys pass through unchanged.
func Redact(key, value string) string {
	if !IsSensitiveKey(key) {
		return value
	}
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

// RedactedValues returns a copy of the snapshot with every sensitive
// value masked. Safe to log or serve from the control API.
func (r *Resolved) RedactedValues() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = Redact(k, v)
	}
	return out
}
