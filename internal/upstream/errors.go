package upstream

import (
	"errors"
	"fmt"
)

// ErrUpstream is the sentinel every UpstreamError wraps, so callers can test
// with errors.Is(err, upstream.ErrUpstream) without caring about the status
// code or message.
var ErrUpstream = errors.New("upstream error")

// Error represents a non-2xx response, a network failure, an unparseable
// body, or a {success:false} envelope from the upstream trade-search API.
// Status is 0 for network failures, where there was no HTTP response to
// carry a status code.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream error: %s", e.Message)
	}
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return ErrUpstream }

// IsUnauthorized reports whether the error represents an HTTP 401, the
// trigger for a token-cache invalidate-and-retry-once.
func (e *Error) IsUnauthorized() bool { return e.Status == 401 }
