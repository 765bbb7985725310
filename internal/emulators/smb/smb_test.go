package smb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildType3 assembles a minimal NTLMSSP Type 3 Authenticate message with
// the five security buffers at their fixed header offsets, wrapped in the
// same length-prefixed envelope spnegoWrap produces.
func buildType3(domain, user, wks string, lm, nt []byte) []byte {
	const headerLen = 64
	var payload []byte
	msg := make([]byte, headerLen)
	copy(msg, "NTLMSSP\x00")
	binary.LittleEndian.PutUint32(msg[8:], 3)

	addBuf := func(headerOffset int, data []byte) {
		binary.LittleEndian.PutUint16(msg[headerOffset:], uint16(len(data)))
		binary.LittleEndian.PutUint16(msg[headerOffset+2:], uint16(len(data)))
		binary.LittleEndian.PutUint32(msg[headerOffset+4:], uint32(headerLen+len(payload)))
		payload = append(payload, data...)
	}
	addBuf(12, lm)
	addBuf(20, nt)
	addBuf(28, utf16le(domain))
	addBuf(36, utf16le(user))
	addBuf(44, utf16le(wks))

	return spnegoWrap(append(msg, payload...))
}

func TestParseNTLMAuthenticateExtractsAllFields(t *testing.T) {
	lm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	nt := []byte{9, 10, 11, 12, 13, 14, 15, 16}
	body := buildType3("CORP", "alice", "WS01", lm, nt)

	auth, ok := parseNTLMAuthenticate(body)
	require.True(t, ok)
	assert.Equal(t, "CORP", auth.domain)
	assert.Equal(t, "alice", auth.username)
	assert.Equal(t, "WS01", auth.workstation)
	assert.Equal(t, lm, auth.lmResponse)
	assert.Equal(t, nt, auth.ntResponse)
}

func TestParseNTLMAuthenticateRejectsWrongMessageType(t *testing.T) {
	challenge := buildNTLMChallenge(make([]byte, 8), "WORKGROUP")
	_, ok := parseNTLMAuthenticate(spnegoWrap(challenge))
	assert.False(t, ok)
}

func TestParseNTLMAuthenticateRejectsGarbage(t *testing.T) {
	_, ok := parseNTLMAuthenticate([]byte("not an ntlmssp message at all"))
	assert.False(t, ok)
}

func TestBuildNTLMChallengeShape(t *testing.T) {
	serverChallenge := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x01, 0x02}
	msg := buildNTLMChallenge(serverChallenge, "WORKGROUP")

	require.GreaterOrEqual(t, len(msg), 48)
	assert.Equal(t, "NTLMSSP\x00", string(msg[:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(msg[8:12]))
	assert.Equal(t, serverChallenge, msg[24:32])

	nameLen := binary.LittleEndian.Uint16(msg[12:14])
	nameOff := binary.LittleEndian.Uint32(msg[16:20])
	assert.Equal(t, utf16le("WORKGROUP"), msg[nameOff:int(nameOff)+int(nameLen)])
}

func TestNetBIOSFrameRoundTrip(t *testing.T) {
	body := []byte("payload bytes")
	framed := frameNetBIOS(body)
	require.Len(t, framed, 4+len(body))
	length := int(framed[1])<<16 | int(framed[2])<<8 | int(framed[3])
	assert.Equal(t, len(body), length)
	assert.Equal(t, body, framed[4:])
}

func TestUTF16RoundTrip(t *testing.T) {
	assert.Equal(t, "CORP", utf16leDecode(utf16le("CORP")))
}

func TestSPNEGOWrapIsDERNegTokenResp(t *testing.T) {
	token := []byte("NTLMSSP\x00fake-token-bytes")
	blob := spnegoWrap(token)

	require.NotEmpty(t, blob)
	assert.Equal(t, byte(0xa1), blob[0], "outer tag must be [1] NegTokenResp")
	assert.True(t, bytes.Contains(blob, ntlmsspOID), "supportedMech must carry the NTLMSSP OID")
	assert.Equal(t, token, unwrapSPNEGO(blob))
}

func TestDERTagLongForm(t *testing.T) {
	content := make([]byte, 0x90)
	out := derTag(0x04, content)
	assert.Equal(t, []byte{0x04, 0x81, 0x90}, out[:3])
	assert.Len(t, out, 3+0x90)
}
