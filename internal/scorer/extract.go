package scorer

import (
	"fmt"
	"strings"

	"github.com/roach88/sadhana/internal/bhav"
	"github.com/roach88/sadhana/internal/payload"
)

// ExtractJSON finds a JSON object in model output. It tries, in order,
// the whole text, the first fenced code block, and the span between the
// outermost braces.
func ExtractJSON(text string) (payload.Document, error) {
	for _, candidate := range candidates(text) {
		doc, err := payload.Decode([]byte(candidate))
		if err == nil && len(doc) > 0 {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", bhav.ErrNonJSONResponse, truncate(text, 80))
}

func candidates(text string) []string {
	text = strings.TrimSpace(text)
	out := []string{text}
	if block, ok := fenced(text); ok {
		out = append(out, block)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		out = append(out, text[start:end+1])
	}
	return out
}

// fenced returns the body of the first ``` block, dropping a language tag.
func fenced(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(rest[:nl]), "{") {
		rest = rest[nl+1:]
	}
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:closing]), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
