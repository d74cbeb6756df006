package treestore

import "strings"

const maxSanitizedBytes = 120

// Sanitize maps a human-readable module name to a safe filesystem
// basename: lowercase, runs of non [A-Za-z0-9_-] become a single "_",
// repeated separators collapse, and the result is truncated to 120 bytes.
// Sanitize is idempotent: Sanitize(Sanitize(x)) == Sanitize(x) (R2).
func Sanitize(name string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
			lastWasSep = false
		default:
			if !lastWasSep && b.Len() > 0 {
				b.WriteByte('_')
				lastWasSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "module"
	}
	if len(out) > maxSanitizedBytes {
		// Sanitize only ever emits ASCII bytes, so a byte-length cut is
		// always rune-safe.
		out = strings.TrimRight(out[:maxSanitizedBytes], "_")
	}
	return out
}
