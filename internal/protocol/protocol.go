// Package protocol defines the newline-delimited text protocol spoken over the
// socket: the client sends arbitrary lines, the server answers every complete
// line with "pong", and "SERVER_SHUTDOWN" tells a client not to reconnect.
package protocol

import "strings"

const (
	// Terminator ends every line on the wire
	Terminator = '\n'

	// Reply is sent by the server for each complete request line
	Reply = "pong\n"

	// ShutdownSentinel is sent server to client only and means the server is
	// terminating and the client must not reconnect
	ShutdownSentinel = "SERVER_SHUTDOWN\n"

	// DefaultPayload replaces empty interactive input
	DefaultPayload = "ping"
)

// Normalize returns text ending with exactly one line terminator. Any run of
// trailing "\n" or "\r\n" is collapsed.
func Normalize(text string) string {
	return strings.TrimRight(text, "\r\n") + string(Terminator)
}

// Encode normalizes text and returns its UTF-8 bytes
func Encode(text string) []byte {
	return []byte(Normalize(text))
}

// IsShutdown reports whether a received line is exactly the shutdown sentinel.
// The line may be passed with or without its terminator.
func IsShutdown(line string) bool {
	return strings.TrimSuffix(line, string(Terminator)) == strings.TrimSuffix(ShutdownSentinel, string(Terminator))
}

// Trim strips the line terminator (and a preceding carriage return) for display
func Trim(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// OrDefault substitutes payload for input that is empty after trimming the terminator
func OrDefault(input, payload string) string {
	if Trim(input) == "" {
		return payload
	}
	return input
}
