// Package redaction scrubs secret-shaped values out of log fields and
// free-text messages before they reach a sink, so that logger sinks never
// have to be trusted individually with secret handling.
package redaction

import (
	"regexp"
	"strings"
)

// pattern pairs a detector with the replacement applied when it matches.
type pattern struct {
	name    string
	re      *regexp.Regexp
	replace string
}

var patterns = []pattern{
	{
		name:    "bearer token",
		re:      regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{16,}`),
		replace: "Bearer [REDACTED]",
	},
	{
		name:    "jwt",
		re:      regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
		replace: "[REDACTED_JWT]",
	},
	{
		name:    "pem private key",
		re:      regexp.MustCompile(`-----BEGIN\s+[A-Z ]*PRIVATE KEY-----[\s\S]*?-----END\s+[A-Z ]*PRIVATE KEY-----`),
		replace: "[REDACTED_PRIVATE_KEY]",
	},
	{
		name:    "key=value secret",
		re:      regexp.MustCompile(`(?i)(passphrase|password|secret|token|api[_-]?key|private[_-]?key)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)`),
		replace: "${1}${2}[REDACTED]",
	},
}

// blockedFieldSubstrings marks a structured field as secret by name alone,
// regardless of its value shape.
var blockedFieldSubstrings = []string{
	"password", "passphrase", "secret", "token", "apikey", "api_key",
	"private_key", "privkey", "credential", "auth_header",
}

// Config controls redaction behavior.
type Config struct {
	Enabled       bool
	Replacement   string
	BlockedFields []string
}

// DefaultConfig returns sensible defaults: enabled, with the built-in
// blocked-field list.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Replacement:   "[REDACTED]",
		BlockedFields: blockedFieldSubstrings,
	}
}

// Redactor scrubs strings, maps, and structured log fields.
type Redactor struct {
	cfg Config
}

// New creates a Redactor from cfg, filling in defaults for zero-value fields.
func New(cfg Config) *Redactor {
	if cfg.Replacement == "" {
		cfg.Replacement = "[REDACTED]"
	}
	if cfg.BlockedFields == nil {
		cfg.BlockedFields = blockedFieldSubstrings
	}
	return &Redactor{cfg: cfg}
}

// String scrubs pattern matches out of free text.
func (r *Redactor) String(s string) string {
	if !r.cfg.Enabled {
		return s
	}
	out := s
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, p.replace)
	}
	return out
}

// FieldIsSecret reports whether a field name alone marks its value as secret.
func (r *Redactor) FieldIsSecret(name string) bool {
	lower := strings.ToLower(name)
	for _, blocked := range r.cfg.BlockedFields {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

// Fields scrubs a structured field map into a new map (the input is left
// untouched so callers can retain the original for local
// error handling before it's ever logged).
func (r *Redactor) Fields(fields map[string]any) map[string]any {
	if !r.cfg.Enabled || fields == nil {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch {
		case r.FieldIsSecret(k):
			out[k] = r.cfg.Replacement
		default:
			if s, ok := v.(string); ok {
				out[k] = r.String(s)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
