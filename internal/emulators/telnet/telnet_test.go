package telnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineStripsIACNegotiation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{iac, do, echo})
		_, _ = client.Write([]byte("root\r\n"))
	}()

	r := &telnetReader{conn: server}
	line, ok := r.readLine()
	require.True(t, ok)
	assert.Equal(t, "root", line)
}

func TestReadLineHandlesInterleavedIAC(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{'a', 'd', iac, will, echo, 'm', 'i', 'n', '\r', '\n'})
	}()

	r := &telnetReader{conn: server}
	line, ok := r.readLine()
	require.True(t, ok)
	assert.Equal(t, "admin", line)
}

func TestReadLineClosedConnection(t *testing.T) {
	client, server := net.Pipe()
	client.Close()
	defer server.Close()

	r := &telnetReader{conn: server}
	_, ok := r.readLine()
	assert.False(t, ok)
}
