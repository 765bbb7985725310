package mysql

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte{0x03, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}
	go func() {
		_ = writePacket(server, 5, payload)
	}()

	seq, got, err := readPacket(client)
	require.NoError(t, err)
	assert.Equal(t, byte(5), seq)
	assert.Equal(t, payload, got)
}

func TestReadPacketEmptyPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writePacket(server, 0, nil)
	}()

	_, got, err := readPacket(client)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseHandshakeResponseUsername(t *testing.T) {
	payload := make([]byte, 32)
	payload = append(payload, []byte("root\x00scramble-bytes")...)
	assert.Equal(t, "root", parseHandshakeResponseUsername(payload))
}

func TestParseHandshakeResponseUsernameTruncated(t *testing.T) {
	assert.Equal(t, "", parseHandshakeResponseUsername([]byte{1, 2, 3}))
}

func TestLengthEncodedInt(t *testing.T) {
	assert.Equal(t, []byte{0x07}, lengthEncodedInt(7))
	assert.Equal(t, []byte{0xfa}, lengthEncodedInt(250))

	long := lengthEncodedInt(300)
	require.Len(t, long, 3)
	assert.Equal(t, byte(0xfc), long[0])
}

func TestLengthEncodedString(t *testing.T) {
	assert.Equal(t, []byte{0x03, 'a', 'b', 'c'}, lengthEncodedString("abc"))
}

func TestBuildHandshakeAdvertisesNativePassword(t *testing.T) {
	scramble := make([]byte, 21)
	hs := buildHandshake(scramble)
	assert.Equal(t, byte(10), hs[0])
	assert.Contains(t, string(hs), "mysql_native_password")
	assert.Contains(t, string(hs), "8.0.35-honeypot")
}
