package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello\n"},
		{"hello\n", "hello\n"},
		{"hello\n\n", "hello\n"},
		{"hello\r\n", "hello\n"},
		{"", "\n"},
		{"a\nb", "a\nb\n"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
	assert.Equal(t, []byte("hello\n"), Encode("hello"))
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, IsShutdown("SERVER_SHUTDOWN\n"))
	assert.True(t, IsShutdown("SERVER_SHUTDOWN"))
	assert.False(t, IsShutdown("SERVER_SHUTDOWN \n"))
	assert.False(t, IsShutdown("server_shutdown\n"))
	assert.False(t, IsShutdown(Reply))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "ping", OrDefault("", "ping"))
	assert.Equal(t, "ping", OrDefault("\n", "ping"))
	assert.Equal(t, "hello", OrDefault("hello", "ping"))
}
