package messaging

import "strings"

// NormalizeGermanNumber converts a phone number to E.164, assuming German
// numbers when no country code is present. Returns "" for unusable input.
func NormalizeGermanNumber(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		if c := value[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	s := string(digits)
	switch {
	case strings.HasPrefix(value, "+"):
		return "+" + s
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	case strings.HasPrefix(s, "0"):
		return "+49" + s[1:]
	default:
		return "+" + s
	}
}
