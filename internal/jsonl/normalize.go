package jsonl

import (
	"strings"
	"time"
)

// Accessibility values carried on every document.
const (
	AccessibilityOpen       = "open-access"
	AccessibilityControlled = "controlled-access"
)

// normalizeStatus maps archive status vocabulary onto the search
// vocabulary. Unknown values fall back to live.
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "public", "live", "":
		return "live"
	case "replaced", "killed", "withdrawn":
		return "withdrawn"
	case "suppressed":
		return "suppressed"
	case "unpublished":
		return "unpublished"
	}
	return "live"
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// normalizeDate renders an upstream timestamp as RFC 3339 UTC. The
// second return reports whether the input was parseable.
func normalizeDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return "", true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return raw, false
}

// normalizeText collapses internal whitespace runs left behind by
// pretty-printed XML.
func normalizeText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
