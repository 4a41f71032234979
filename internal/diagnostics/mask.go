package diagnostics

import (
	"regexp"
	"strings"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

var ipv4Pattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)

// MaskIPv4 keeps the first two octets of an IPv4 address.
func MaskIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return parts[0] + "." + parts[1] + ".xxx.xxx"
}

// MaskIPv4InText masks every IPv4 address found in s.
func MaskIPv4InText(s string) string {
	return ipv4Pattern.ReplaceAllStringFunc(s, MaskIPv4)
}

// MaskTokenName keeps the first and last two characters of a token name.
func MaskTokenName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + "***" + s[len(s)-2:]
}

// RedactSecret keeps the first and last three characters of a secret.
// Short secrets are replaced entirely.
func RedactSecret(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 6:
		return "***"
	default:
		return s[:3] + "***" + s[len(s)-3:]
	}
}

// Sanitize returns a copy of v with every IPv4 address in every string
// masked. Maps and slices are walked recursively.
func Sanitize(v any) any {
	switch t := v.(type) {
	case string:
		return MaskIPv4InText(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Sanitize(val)
		}
		return out
	case models.Record:
		return Sanitize(map[string]any(t))
	case []models.Record:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = MaskIPv4InText(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	default:
		return v
	}
}
