package rpc

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable is matched by every error returned after the retry
// budget is exhausted.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError reports the exhausted call and the last attempt's cause.
type UpstreamError struct {
	Method   string
	Attempts int
	Endpoint string
	Cause    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempts (last endpoint %s): %v",
		ErrUpstreamUnavailable, e.Method, e.Attempts, e.Endpoint, e.Cause)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Cause}
}

// RemoteError is an error object returned by the upstream node itself.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
