package logger

import (
	"net/url"
	"regexp"
	"strings"
)

// redacted replaces any value considered sensitive
const redacted = "[REDACTED]"

// SensitiveDataPatterns contains regex patterns for sensitive data that should be redacted in logs
var SensitiveDataPatterns = []*regexp.Regexp{
	// Bearer tokens sent to the OneBot implementation
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),

	// access_token style query parameters and key=value secrets
	regexp.MustCompile(`(?i)((access_token|token|secret|password|rkey)[\s:=]+)([^&;,\s]{3,})`),
}

// SensitiveKeywords are keywords that indicate fields may contain sensitive data
var SensitiveKeywords = []string{
	"password", "secret", "token", "authorization", "rkey", "dsn",
}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redacted)
	}
	return input
}

// RedactURL strips the query string and any userinfo from a URL. Chat image
// URLs carry short-lived download keys in the query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactSensitiveData(raw)
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		u.RawQuery = redacted
	}
	return u.String()
}

// IsSensitiveKey reports whether a field key names a secret
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitiveKey := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitiveKey) {
			return true
		}
	}
	return false
}

// Redacted returns fields with the string values of sensitive keys replaced
func Redacted(fields ...Field) []Field {
	result := make([]Field, len(fields))
	copy(result, fields)
	for i := range result {
		if s, ok := result[i].Value.(string); ok && s != "" && IsSensitiveKey(result[i].Key) {
			result[i].Value = redacted
		}
	}
	return result
}
