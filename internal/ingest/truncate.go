package ingest

import "unicode/utf8"

// DefaultRawOutputLimit caps how much raw model text is stored per snapshot.
const DefaultRawOutputLimit = 16000

const truncationMarker = " [truncated]"

// TruncateRawOutput shortens s to at most limit bytes, appending a marker
// when anything was cut. The cut never splits a UTF-8 sequence.
func TruncateRawOutput(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultRawOutputLimit
	}
	if len(s) <= limit {
		return s
	}
	if len(truncationMarker) >= limit {
		return truncationMarker[:limit]
	}
	keep := limit - len(truncationMarker)
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + truncationMarker
}
