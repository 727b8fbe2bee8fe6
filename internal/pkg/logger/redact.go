package logger

import "strings"

// RedactEmail masks the local part of an address for safe logging.
// "jane.doe@example.com" becomes "ja***@example.com"; local parts of
// two characters or fewer are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactToken keeps the first segment of a UUID-shaped token and masks
// the rest, enough to correlate log lines without leaking the secret.
func RedactToken(token string) string {
	if i := strings.IndexByte(token, '-'); i > 0 {
		return token[:i] + "-***"
	}
	if len(token) > 8 {
		return token[:8] + "***"
	}
	return "***"
}
