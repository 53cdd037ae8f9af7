package watch

import (
	"strings"
	"time"
)

// DefaultTarget is the target ID used when a caller does not name one.
const DefaultTarget = "default"

// WatchConfig is the (URL, keyword) pair a target monitors.
type WatchConfig struct {
	TargetURL string `json:"url" mapstructure:"url"`
	Keyword   string `json:"word" mapstructure:"word"`
}

// Executable reports whether both fields are present. A tick with a
// non-executable config is skipped, not failed.
func (c WatchConfig) Executable() bool {
	return strings.TrimSpace(c.TargetURL) != "" && strings.TrimSpace(c.Keyword) != ""
}

// RunState is the tri-state run flag ("unset" collapses to Paused).
type RunState string

// Run flag values as persisted under the semaforo key.
const (
	RunStateActive RunState = "V"
	RunStatePaused RunState = "R"
)

// ParseRunState maps a stored flag value to a RunState. Anything other than
// the Active marker, including an absent key, reads as Paused.
func ParseRunState(raw string, present bool) RunState {
	if present && raw == string(RunStateActive) {
		return RunStateActive
	}
	return RunStatePaused
}

// Active reports whether the state allows ticks to proceed.
func (s RunState) Active() bool {
	return s == RunStateActive
}

// String renders a human-facing label.
func (s RunState) String() string {
	if s.Active() {
		return "active"
	}
	return "paused"
}

// ScheduleHandle identifies the periodic trigger currently armed for a target.
type ScheduleHandle string

// PageText is the normalized result of one fetch.
type PageText struct {
	URL        string
	Paragraphs []string
	StatusCode int
	Bytes      int
	Duration   time.Duration
}

// MatchResult describes the first keyword hit inside a page.
type MatchResult struct {
	ParagraphIndex int    `json:"paragraph_index"`
	ContextBefore  string `json:"context_before"`
	ContextAfter   string `json:"context_after"`
	MatchedWord    string `json:"matched_word"`
}

// Alert is the payload handed to notifiers when a keyword is found.
type Alert struct {
	TargetID    string      `json:"target_id"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	TargetURL   string      `json:"target_url"`
	Keyword     string      `json:"keyword"`
	Match       MatchResult `json:"match"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	RaisedAt    time.Time   `json:"raised_at"`
}

// Outcome is the terminal state of a tick.
type Outcome string

// Tick outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Reasons attached to tick results.
const (
	ReasonMatched       = "matched"
	ReasonNoMatch       = "no_match"
	ReasonDuplicate     = "duplicate"
	ReasonConfigMissing = "config_missing"
	ReasonPaused        = "paused"
	ReasonCanceled      = "canceled"
	ReasonCoalesced     = "coalesced"
	ReasonFetch         = "fetch_error"
	ReasonNotify        = "notify_error"
	ReasonUnexpected    = "unexpected"
)

// TickResult summarizes one watcher tick.
type TickResult struct {
	TargetID  string        `json:"target_id"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason"`
	Match     *MatchResult  `json:"match,omitempty"`
	Alerted   bool          `json:"alerted"`
	Err       error         `json:"-"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ErrorText returns the error message or an empty string.
func (r TickResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
