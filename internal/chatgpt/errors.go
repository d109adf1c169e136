package chatgpt

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the upstream rejected the credential. The
	// credential has already been invalidated; refresh once and retry.
	ErrAuthExpired = errors.New("upstream access credential expired or rejected")

	// ErrAuthenticationFailed means a credential refresh did not produce
	// a usable credential. Not recoverable without operator action.
	ErrAuthenticationFailed = errors.New("upstream authentication failed")

	// ErrUpstreamUnavailable marks a 5xx upstream response. Retryable by
	// caller policy; no retry happens inside the transport.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)

// UpstreamError carries the status and body of an unexpected non-200
// upstream response for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: status=%d body=%s", e.StatusCode, e.Body)
}
