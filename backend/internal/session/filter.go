package session

import "strings"

// thinkingMarkers are substrings that only appear in model reasoning output
var thinkingMarkers = []string{
	"<thinking>",
	"</thinking>",
	"<thought>",
	"thinking process",
	"thought process:",
	"proceso de pensamiento",
	"analizando la solicitud",
}

// userFacing reports whether a text fragment may reach the client and the
// transcript. Reasoning fragments start with a bold marker or contain a
// thinking indicator and are dropped entirely.
func userFacing(fragment string) bool {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "**") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range thinkingMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
