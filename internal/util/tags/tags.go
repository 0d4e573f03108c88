// Package tags implements the tag scheme used to mark and find
// sandbox-managed resources on the platform.
package tags

import (
	"fmt"
	"strings"
)

// Marker is attached to every VM the sandbox creates. It is the only
// durable record of ownership, so sweeps select on it.
const Marker = "pvesbx"

// ForBuiltIn returns the cache tag for a built-in template.
func ForBuiltIn(name string) string {
	return sanitize("builtin-" + name)
}

// ForOVA returns the fingerprint tag for an OVA-sourced template.
// The fingerprint is the file basename plus its byte size, which is cheap to
// compute and stable enough to reuse templates across sessions.
func ForOVA(basename string, size int64) string {
	return sanitize(fmt.Sprintf("ova-%s-%d", basename, size))
}

// Split parses the platform's ";"-separated tag string.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ";") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Join renders tags into the platform's ";"-separated form.
func Join(tags []string) string {
	return strings.Join(tags, ";")
}

// Has reports whether the ";"-separated tag string contains tag.
func Has(s, tag string) bool {
	for _, t := range Split(s) {
		if t == tag {
			return true
		}
	}
	return false
}

// sanitize maps a string onto the platform's tag alphabet:
// lowercase alphanumerics plus "-", "_" and ".".
func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
