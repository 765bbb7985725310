package vnc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerInitAdvertisesFakeFramebuffer(t *testing.T) {
	buf := serverInit("honeypot-desktop")
	require.GreaterOrEqual(t, len(buf), 24)

	assert.Equal(t, uint16(1024), binary.BigEndian.Uint16(buf[0:2]))
	assert.Equal(t, uint16(768), binary.BigEndian.Uint16(buf[2:4]))
	assert.Equal(t, byte(32), buf[4], "bits per pixel")
	assert.Equal(t, byte(24), buf[5], "depth")

	nameLen := binary.BigEndian.Uint32(buf[20:24])
	assert.Equal(t, uint32(len("honeypot-desktop")), nameLen)
	assert.Equal(t, "honeypot-desktop", string(buf[24:]))
}

func TestServerInitNameLengthTracksName(t *testing.T) {
	buf := serverInit("QEMU")
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(buf[20:24]))
	assert.Equal(t, "QEMU", string(buf[24:]))
}
