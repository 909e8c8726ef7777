package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// sensitiveDataPatterns match secrets that must not reach log output
var sensitiveDataPatterns = []redaction{
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)((api|access|account|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`), "${1}" + redacted},
	// credentials embedded in DSNs and URLs, user:pass@host
	{regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)(@)`), "${1}" + redacted + "${3}"},
}

// SensitiveKeywords mark field keys whose values are always redacted
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "access_key", "account_key", "authorization", "dsn",
}

// RedactSensitiveData replaces secrets in free text with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, r := range sensitiveDataPatterns {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

// RedactSensitiveValue redacts value entirely when key looks sensitive.
func RedactSensitiveValue(key, value string) string {
	if value == "" {
		return value
	}
	keyLower := strings.ToLower(key)
	for _, sensitive := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitive) {
			return redacted
		}
	}
	return value
}
