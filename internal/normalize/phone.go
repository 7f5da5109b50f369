package normalize

import "strings"

// Phone normalizes a phone number to E.164. A bare 10-digit number is
// assumed to be +1; 11 to 15 digits get a plain + prefix. The second return
// is false when no valid E.164 number can be produced.
func Phone(phone string) (string, bool) {
	cleaned := strings.TrimSpace(phone)
	if cleaned == "" {
		return "", false
	}

	hadPlus := strings.HasPrefix(cleaned, "+")
	var digits strings.Builder
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	var normalized string
	switch {
	case hadPlus:
		normalized = "+" + d
	case len(d) == 10:
		normalized = "+1" + d
	case len(d) >= 11 && len(d) <= 15:
		normalized = "+" + d
	default:
		return "", false
	}

	if !validE164(normalized) {
		return "", false
	}
	return normalized, true
}

// validE164 checks the shape +[1-9] followed by 7 to 14 digits.
func validE164(s string) bool {
	if len(s) < 9 || len(s) > 16 || s[0] != '+' {
		return false
	}
	if s[1] < '1' || s[1] > '9' {
		return false
	}
	for _, r := range s[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
