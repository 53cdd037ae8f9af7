package watch

import (
	"fmt"
	"strings"
	"time"
)

// AlertTitle is the fixed headline of every keyword alert.
const AlertTitle = "Keyword found!"

// NewAlert builds the user-facing alert for a match. The paragraph number in
// the body is 1-based.
func NewAlert(targetID string, cfg WatchConfig, match MatchResult, raisedAt time.Time) Alert {
	return Alert{
		TargetID:  targetID,
		Title:     AlertTitle,
		Body:      FormatAlertBody(cfg.Keyword, match),
		TargetURL: cfg.TargetURL,
		Keyword:   cfg.Keyword,
		Match:     match,
		RaisedAt:  raisedAt,
	}
}

// FormatAlertBody renders the excerpt line followed by the open-page hint.
func FormatAlertBody(keyword string, match MatchResult) string {
	return fmt.Sprintf("Found %q in paragraph %d: %s...\nTap to open the page.",
		keyword, match.ParagraphIndex+1, FormatExcerpt(match))
}

// FormatExcerpt joins the non-empty context pieces around the match.
func FormatExcerpt(match MatchResult) string {
	return strings.Join(nonEmpty(match.ContextBefore, match.MatchedWord, match.ContextAfter), " ")
}

// FingerprintInput is the byte string hashed to detect repeated alerts.
func FingerprintInput(cfg WatchConfig, match MatchResult) []byte {
	return []byte(strings.Join([]string{
		cfg.TargetURL,
		cfg.Keyword,
		fmt.Sprint(match.ParagraphIndex),
		match.ContextBefore,
		match.MatchedWord,
		match.ContextAfter,
	}, "|"))
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
