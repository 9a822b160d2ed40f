package sender

import "strings"

// FormatPhoneNumber normalises a stored phone number to E.164, assuming
// countryCode for bare national numbers. Returns "" when no digits remain.
func FormatPhoneNumber(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+" + countryCode + digits
	}
	return "+" + digits
}
