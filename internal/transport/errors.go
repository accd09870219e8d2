package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies a transport failure
type Kind int

const (
	// KindNone means no error
	KindNone Kind = iota
	// KindEndpointNotFound means the socket path does not exist
	KindEndpointNotFound
	// KindConnectionRefused means the path exists but nothing accepts on it
	KindConnectionRefused
	// KindTimeout means an accept, read, write or dial deadline passed
	KindTimeout
	// KindPeerClosed means the peer closed the stream cleanly (EOF)
	KindPeerClosed
	// KindConnectionReset means the peer went away abruptly (reset, broken pipe)
	KindConnectionReset
	// KindClosed means the local side closed the handle
	KindClosed
	// KindUnexpected is everything else
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindEndpointNotFound:
		return "endpoint_not_found"
	case KindConnectionRefused:
		return "connection_refused"
	case KindTimeout:
		return "timeout"
	case KindPeerClosed:
		return "peer_closed"
	case KindConnectionReset:
		return "connection_reset"
	case KindClosed:
		return "closed"
	default:
		return "unexpected"
	}
}

// Classify maps an I/O error onto a Kind. Wrapped errors are unwrapped.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindPeerClosed
	case errors.Is(err, net.ErrClosed):
		return KindClosed
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist):
		return KindEndpointNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return KindConnectionReset
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnexpected
}

// Error is a classified transport failure
type Error struct {
	Op   string // "dial", "listen", "accept", "read", "write"
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Kind: Classify(err), Err: err}
}
