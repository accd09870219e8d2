// Package transport provides the local byte-stream channel: unix domain
// socket listen and dial, endpoint probing and failure classification.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ErrNotSocket is returned when the endpoint path exists but is not a socket
var ErrNotSocket = errors.New("path exists and is not a socket")

// PreparePath returns the absolute socket path and makes sure its parent
// directory exists.
func PreparePath(socketPath string) (string, error) {
	absPath, err := filepath.Abs(socketPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	parentDir := filepath.Dir(absPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directory %s: %w", parentDir, err)
	}
	return absPath, nil
}

// RemoveStale deletes a leftover socket file at path. A missing file is fine;
// a regular file or directory is never removed.
func RemoveStale(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s: %w", path, ErrNotSocket)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}
	return nil
}

// Listen binds a unix stream socket at path after removing any stale socket
// file, and applies mode to the socket file.
func Listen(socketPath string, mode os.FileMode) (*net.UnixListener, string, error) {
	absPath, err := PreparePath(socketPath)
	if err != nil {
		return nil, "", err
	}
	if err := RemoveStale(absPath); err != nil {
		return nil, "", err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: absPath, Net: "unix"})
	if err != nil {
		return nil, "", wrap("listen", absPath, err)
	}
	if err := os.Chmod(absPath, mode); err != nil {
		ln.Close()
		return nil, "", fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return ln, absPath, nil
}

// Dial connects to the unix socket at path. Failures are returned as *Error so
// callers can tell a missing endpoint from a refused one.
func Dial(ctx context.Context, socketPath string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, wrap("dial", socketPath, err)
	}
	return conn, nil
}

// IsTimeout reports whether err is a deadline expiry
func IsTimeout(err error) bool {
	return Classify(err) == KindTimeout
}
