// Package locator finds the first case-insensitive keyword hit inside a
// sequence of paragraphs and captures the neighbouring tokens.
package locator

import (
	"strings"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Locate scans paragraphs in order and returns the first token containing
// keyword, or nil when nothing matches. An empty keyword never matches.
func Locate(paragraphs []string, keyword string) *watch.MatchResult {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil
	}
	for pi, paragraph := range paragraphs {
		tokens := strings.Fields(paragraph)
		for ti, token := range tokens {
			if !strings.Contains(strings.ToLower(token), needle) {
				continue
			}
			result := &watch.MatchResult{
				ParagraphIndex: pi,
				MatchedWord:    token,
			}
			if ti > 0 {
				result.ContextBefore = tokens[ti-1]
			}
			if ti+1 < len(tokens) {
				result.ContextAfter = tokens[ti+1]
			}
			return result
		}
	}
	return nil
}
