package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

// UpstreamError reports a failed call to the platform. Status is the HTTP
// status the platform returned, or a synthesized gateway status for
// transport failures (502, 503 breaker open, 504 timeout).
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("platform %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("platform %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is an *UpstreamError and returns it.
func IsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func transportError(op string, err error) *UpstreamError {
	status := http.StatusBadGateway
	var ne net.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		status = http.StatusGatewayTimeout
	}
	return &UpstreamError{Op: op, Status: status, Err: err}
}
