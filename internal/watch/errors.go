package watch

import (
	"errors"
	"fmt"
)

// Sentinel errors describing why a tick did not run to completion.
var (
	ErrConfigMissing = errors.New("watch config missing url or keyword")
	ErrPaused        = errors.New("watch is paused")
	ErrTickCanceled  = errors.New("tick canceled")
	ErrUnexpected    = errors.New("unexpected tick error")
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchNetwork   FetchErrorKind = "network"
	FetchTimeout   FetchErrorKind = "timeout"
	FetchMalformed FetchErrorKind = "malformed"
	FetchStatus    FetchErrorKind = "status"
)

// FetchError is returned by every Fetcher on failure.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s, status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a *FetchError from err.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
