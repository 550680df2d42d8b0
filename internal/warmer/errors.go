package warmer

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// errorKind tags a fetch failure for the retry loop.
type errorKind int

const (
	// errPermanent failures abort immediately: DNS, TLS, malformed URLs
	// and anything else a retry cannot fix.
	errPermanent errorKind = iota
	// errTransient failures are worth retrying: timeouts and dropped
	// connections.
	errTransient
)

// classifyError maps a fetch error to its retry class. DNS failures are
// checked before the generic timeout test because *net.DNSError also
// implements net.Error.
func classifyError(err error) errorKind {
	if err == nil {
		return errPermanent
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errTransient
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return errTransient
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errTransient
	}

	return errPermanent
}
