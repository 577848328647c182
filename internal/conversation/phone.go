package conversation

import "strings"

// NormalizePhone reduces a phone number to +<digits>. Ten-digit numbers are
// assumed to be North American. Returns "" when fewer than 7 digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) < 7:
		return ""
	case len(digits) == 10 && !strings.HasPrefix(strings.TrimSpace(raw), "+"):
		return "+1" + digits
	default:
		return "+" + digits
	}
}

// MaskPhone keeps the last four digits for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
