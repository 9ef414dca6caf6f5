package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for
// English text. Used for threshold estimation only, not exact counting.
const charsPerToken = 4

// DefaultMaxResultTokens caps tool output fed back into the conversation.
// One oversized `docker logs` must not blow the model's context window.
const DefaultMaxResultTokens = 4000

// EstimateTokens returns an approximate token count for the given text,
// using the common ~4 characters per token heuristic. len() counts bytes,
// so multi-byte content overestimates slightly; clipping early is the safe
// direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Clip truncates tool output at the default limit.
func Clip(content string) string {
	return clipAtLineBoundary(content, DefaultMaxResultTokens*charsPerToken)
}

// clipAtLineBoundary cuts at the last newline before the limit to avoid
// splitting mid-line, which matters when the content is indented JSON,
// YAML, or log output. The cut point backs up over partial UTF-8 sequences
// first.
func clipAtLineBoundary(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: output exceeded result limit — original size: %s, limit: %s]",
		formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize returns a human-readable size string. Bytes under 1KB avoid
// confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
