// Package redact masks personal and credential fields in payload maps
// before they are written anywhere a human will read them.
package redact

import "strings"

// DefaultPIIKeys are the keys automatically redacted.
var DefaultPIIKeys = []string{
	"name", "email", "phone", "ssn", "social_security",
	"address", "date_of_birth", "dob", "passport",
	"credit_card", "card_number", "cvv", "password",
	"secret", "token", "api_key", "private_key",
}

// Mask is the replacement for redacted values.
const Mask = "***"

// MaskValue replaces a value with "***". Numbers and bools are preserved.
func MaskValue(v any) any {
	switch v.(type) {
	case int, int64, float64, bool:
		return v
	case nil:
		return nil
	default:
		return Mask
	}
}

// RedactMap redacts specified keys in a map. Nested maps are walked; the
// input is never modified.
func RedactMap(data map[string]any, keys []string) map[string]any {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[strings.ToLower(k)] = true
	}
	return redactMap(data, keySet)
}

func redactMap(data map[string]any, keySet map[string]bool) map[string]any {
	if data == nil {
		return nil
	}
	result := make(map[string]any, len(data))
	for k, v := range data {
		switch {
		case keySet[strings.ToLower(k)]:
			result[k] = MaskValue(v)
		default:
			if nested, ok := v.(map[string]any); ok {
				result[k] = redactMap(nested, keySet)
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// RedactAuto redacts default PII keys plus any extra keys from a map.
func RedactAuto(data map[string]any, extraKeys []string) map[string]any {
	allKeys := append([]string{}, DefaultPIIKeys...)
	allKeys = append(allKeys, extraKeys...)
	return RedactMap(data, allKeys)
}
