package service

import (
	"encoding/json"
	"strings"

	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
)

// ExtractSuggestions pulls the first well-formed JSON array out of free-form
// model output and keeps the elements that carry the required fields.
// Malformed elements are dropped rather than failing the batch.
func ExtractSuggestions(content string) []insightdomain.Suggestion {
	raw := firstArrayLiteral(content)
	if raw == "" {
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil
	}

	var suggestions []insightdomain.Suggestion
	for _, element := range elements {
		var suggestion insightdomain.Suggestion
		if err := json.Unmarshal(element, &suggestion); err != nil {
			continue
		}
		if strings.TrimSpace(suggestion.Title) == "" || strings.TrimSpace(suggestion.Description) == "" {
			continue
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions
}

// firstArrayLiteral returns the first balanced top-level array in the text,
// tracking string and escape state so brackets inside values don't count.
func firstArrayLiteral(content string) string {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
