package adb

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	data := []byte("shell:whoami\x00")
	go writeFrame(server, aOpen, 7, 0, data)

	f, err := readFrame(client)
	require.NoError(t, err)
	assert.Equal(t, uint32(aOpen), f.command)
	assert.Equal(t, uint32(7), f.arg0)
	assert.Equal(t, uint32(len(data)), f.dataLen)
	assert.Equal(t, data, f.data)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go writeFrame(server, aOkay, 1, 2, nil)

	f, err := readFrame(client)
	require.NoError(t, err)
	assert.Equal(t, uint32(aOkay), f.command)
	assert.Equal(t, uint32(0), f.dataLen)
	assert.Nil(t, f.data)
}

func TestWriteFrameHeaderFields(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	data := []byte{1, 2, 3}
	go writeFrame(server, aWrte, 0, 0, data)

	header := make([]byte, 24+len(data))
	_, err := readFullConn(client, header)
	require.NoError(t, err)

	assert.Equal(t, checksum(data), binary.LittleEndian.Uint32(header[16:20]))
	assert.Equal(t, uint32(aWrte)^0xFFFFFFFF, binary.LittleEndian.Uint32(header[20:24]))
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestChecksumSumsBytes(t *testing.T) {
	assert.Equal(t, uint32(0), checksum(nil))
	assert.Equal(t, uint32(6), checksum([]byte{1, 2, 3}))
}
