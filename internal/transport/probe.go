package transport

import (
	"context"
	"os"
	"time"
)

// ProbeStatus describes what lives at a socket path
type ProbeStatus int

const (
	// ProbeMissing means nothing exists at the path
	ProbeMissing ProbeStatus = iota
	// ProbeNotSocket means a non-socket file occupies the path
	ProbeNotSocket
	// ProbeRefused means a socket file exists but no server accepts on it
	ProbeRefused
	// ProbeLive means a server accepted a connection
	ProbeLive
	// ProbeError means the path could not be inspected
	ProbeError
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeMissing:
		return "not found"
	case ProbeNotSocket:
		return "not a socket"
	case ProbeRefused:
		return "exists but server not responding"
	case ProbeLive:
		return "active server detected"
	default:
		return "error"
	}
}

// Probe inspects socketPath: whether it exists, is a socket, and accepts
// connections. The probe connection is closed immediately.
func Probe(ctx context.Context, socketPath string, timeout time.Duration) (ProbeStatus, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ProbeMissing, nil
		}
		return ProbeError, err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ProbeNotSocket, nil
	}

	conn, err := Dial(ctx, socketPath, timeout)
	if err != nil {
		switch Classify(err) {
		case KindConnectionRefused:
			return ProbeRefused, nil
		case KindEndpointNotFound:
			return ProbeMissing, nil
		}
		return ProbeError, err
	}
	conn.Close()
	return ProbeLive, nil
}
