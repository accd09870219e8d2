//go:build !linux

package transport

import (
	"errors"
	"net"
)

// PeerCredentials is only implemented on linux
func PeerCredentials(conn net.Conn) (Credentials, error) {
	return Credentials{}, errors.New("peer credentials not supported on this platform")
}
