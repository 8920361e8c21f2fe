package notifyapi

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

var (
	// ErrNoSession indicates register or login succeeded without setting the
	// session cookie.
	ErrNoSession = errors.New("no session cookie in response")

	// ErrBadStatus indicates the service answered with an unexpected status.
	ErrBadStatus = errors.New("unexpected status code")

	// ErrServer indicates a 5xx answer.
	ErrServer = errors.New("server error")
)

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorCode condenses a call failure for the observer.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	e, ok := verdict.As(err)
	if !ok {
		return "UNKNOWN"
	}
	switch {
	case errors.Is(err, ErrServer):
		return "SERVER_ERROR"
	case errors.Is(err, ErrBadStatus):
		return "BAD_STATUS"
	}
	switch e.Kind {
	case verdict.KindDeadline:
		return "DEADLINE"
	case verdict.KindOutage:
		if e.Public == "API request timeout" {
			return "TIMEOUT"
		}
		return "UNAVAILABLE"
	case verdict.KindProtocol:
		return "INVALID_RESPONSE"
	default:
		return "UNKNOWN"
	}
}
