package logging

import "strings"

// sensitiveFields contains field names whose values are masked before any
// log emission. Audit metadata must never hold secrets; masking is the
// backstop for callers that get this wrong.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"credentials":   true,
	"authorization": true,
	"session_id":    true,
	"cookie":        true,
}

// MaskedValue replaces sensitive values in log output.
const MaskedValue = "[REDACTED]"

// IsSensitiveField reports whether a field name looks secret-bearing.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveFields[lower] {
		return true
	}
	for s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskMap returns a copy of m with sensitive values replaced, recursing
// into nested maps. The input is not modified.
func MaskMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			out[k] = MaskedValue
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = MaskMap(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
