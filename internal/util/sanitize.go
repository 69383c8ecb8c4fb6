package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters before a value
// is echoed back through the API or stored in free-form detail fields.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports whether a raw request value carries common
// injection markers. Used as a cheap pre-filter, not as a real parser.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	markers := []string{"<script", "onerror=", "onload=", "../", "union select", "; drop", "${", "`"}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// TruncateString caps free-form fields (user agents, URLs, bodies) before
// they are persisted.
func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
