package logger

import "regexp"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+[0-9]{7,15}`)
)

// Redact masks email addresses and E.164 phone numbers in s, keeping just
// enough of each to correlate log lines with records.
func Redact(s string) string {
	s = emailRe.ReplaceAllStringFunc(s, func(m string) string {
		for i, c := range m {
			if c == '@' {
				if i <= 2 {
					return "***" + m[i:]
				}
				return m[:2] + "***" + m[i:]
			}
		}
		return "***"
	})
	return phoneRe.ReplaceAllStringFunc(s, func(m string) string {
		if len(m) <= 5 {
			return "+***"
		}
		return m[:3] + "***" + m[len(m)-2:]
	})
}
