package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// DefaultTimeout bounds one fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Classify wraps a transport error in a watch.FetchError. Deadline and
// net.Error timeouts map to FetchTimeout; everything else is FetchNetwork.
func Classify(url string, err error) *watch.FetchError {
	if err == nil {
		return nil
	}
	var fe *watch.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := watch.FetchNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = watch.FetchTimeout
	}
	return &watch.FetchError{Kind: kind, URL: url, Err: err}
}

// StatusError reports a non-2xx response.
func StatusError(url string, status int) *watch.FetchError {
	return &watch.FetchError{
		Kind:       watch.FetchStatus,
		URL:        url,
		StatusCode: status,
		Err:        fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}

// MalformedError reports a body that could not be turned into text.
func MalformedError(url string, status int, err error) *watch.FetchError {
	return &watch.FetchError{Kind: watch.FetchMalformed, URL: url, StatusCode: status, Err: err}
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
