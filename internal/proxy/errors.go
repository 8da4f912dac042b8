package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTarget reports a proxy request without a target URL.
	ErrMissingTarget = errors.New("target url is required")
	// ErrForbiddenTarget reports a target host outside the allowed domain.
	ErrForbiddenTarget = errors.New("target host is not allowed")
	// ErrAllHostsFailed reports an exhausted image host failover chain.
	ErrAllHostsFailed = errors.New("all failover hosts failed")
	// ErrAllAttemptsFailed reports an exhausted header escalation chain.
	ErrAllAttemptsFailed = errors.New("all fetch attempts failed")
)

// UpstreamError reports a non-2xx upstream response. The status is
// propagated to the client when no further fallback remains.
type UpstreamError struct {
	URL    string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

// TransportError reports a DNS, connection, or timeout failure before any
// HTTP status was received. It ranks with upstream 5xx for fallback purposes.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusFor maps a retrieval error to the HTTP status the client sees.
func StatusFor(err error) int {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrMissingTarget):
		return 400
	case errors.Is(err, ErrForbiddenTarget):
		return 403
	case errors.Is(err, ErrAllHostsFailed), errors.Is(err, ErrAllAttemptsFailed):
		return 502
	case errors.As(err, &upstream):
		return upstream.Status
	default:
		// Transport failures and exhausted chains read as a bad gateway.
		return 502
	}
}
