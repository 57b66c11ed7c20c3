package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/jbweber/homelab/paddock/internal/apperr"
)

const msgUnresolvable = "unable to resolve the daemon host"

// StatusError is returned when the daemon answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("daemon returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.StatusCode, e.Body)
}

// classify turns a transport failure into a daemon error with a short
// message; the raw error stays available as the cause.
func classify(hostPort string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperr.Wrap(apperr.KindDaemon, msgUnresolvable, err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return apperr.Wrap(apperr.KindDaemon, fmt.Sprintf("daemon at %s returned status %d", hostPort, statusErr.StatusCode), err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return apperr.Wrap(apperr.KindDaemon, "invalid response from the daemon at "+hostPort, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if opErr.Timeout() {
			return apperr.Wrap(apperr.KindDaemon, "timed out connecting to "+hostPort, err)
		}
		return apperr.Wrap(apperr.KindDaemon, "unable to connect to "+hostPort, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.KindDaemon, "timed out waiting for the daemon at "+hostPort, err)
	}

	return apperr.Wrap(apperr.KindDaemon, "request to the daemon at "+hostPort+" failed", err)
}
