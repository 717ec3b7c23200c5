package logger

import "strings"

// RedactEmail masks the local part of an address, keeping its first two
// characters and the domain: "john.doe@example.com" becomes
// "jo***@example.com", and "ab@example.com" becomes "***@example.com".
// An empty string stays empty; anything else without exactly one "@" is
// fully masked.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	name, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if r := []rune(name); len(r) > 2 {
		return string(r[:2]) + "***@" + domain
	}
	return "***@" + domain
}
