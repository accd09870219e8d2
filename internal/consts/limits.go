package consts

import (
	"os"
	"time"
)

// Socket defaults
const (
	// DefaultSocketName is the socket file name created under the temp dir
	DefaultSocketName = "sockpong.sock"
	// DefaultSocketPermissions is the mode applied to a freshly bound socket file
	DefaultSocketPermissions os.FileMode = 0600
	// DefaultAdminSocketName is the admin socket file name when admin is enabled without a path
	DefaultAdminSocketName = "sockpong-admin.sock"
)

// Server timeouts
const (
	// DefaultAcceptTimeout bounds a single Accept so the loop can observe shutdown
	DefaultAcceptTimeout = 1 * time.Second
	// DefaultIdleTimeout closes a connection that sent nothing for this long
	DefaultIdleTimeout = 60 * time.Second
	// DefaultJoinTimeout is how long Stop waits per active handler
	DefaultJoinTimeout = 1 * time.Second
	// DefaultWriteTimeout bounds a reply or sentinel write
	DefaultWriteTimeout = 5 * time.Second
	// AdminShutdownTimeout bounds the admin HTTP server shutdown
	AdminShutdownTimeout = 5 * time.Second
)

// Client reconnection
const (
	// DefaultReconnectLimit is the number of connect attempts per reconnect cycle
	DefaultReconnectLimit = 5
	// DefaultBaseDelay is the backoff delay after the first failed attempt
	DefaultBaseDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps a single backoff delay
	DefaultMaxDelay = 30 * time.Second
	// DefaultConnectTimeout bounds one dial
	DefaultConnectTimeout = 5 * time.Second
)

// Buffer sizes
const (
	// MaxLineSize is the largest accepted line, including the terminator
	MaxLineSize = 64 * 1024
)
