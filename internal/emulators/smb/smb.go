// Package smb implements a minimal SMB1/SMB2 negotiate + NTLMSSP
// challenge-response honeypot emulator: enough of the handshake to
// harvest domain/username/workstation and LM/NT response bytes from a
// Type 3 Authenticate message.
package smb

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net"
	"time"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const idleTimeout = 30 * time.Second

var errNotAuthenticate = errors.New("session setup did not carry an NTLMSSP authenticate message")

// Emulator is the SMB protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the SMB emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	negotiate, err := readNetBIOS(conn)
	if err != nil || len(negotiate) == 0 {
		return
	}
	if _, err := conn.Write(negotiateResponse()); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	type1, err := readNetBIOS(conn)
	if err != nil {
		return
	}
	serverChallenge := make([]byte, 8)
	_, _ = rand.Read(serverChallenge)
	if _, err := conn.Write(challengeResponse(serverChallenge)); err != nil {
		return
	}
	_ = type1

	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	type3, err := readNetBIOS(conn)
	if err != nil {
		return
	}
	auth, ok := parseNTLMAuthenticate(type3)
	if !ok {
		e.base.Logger.Debug("closing session",
			"error", apperrors.NewClientProtocolError("smb", errNotAuthenticate))
		return
	}
	e.base.Log(ctx, sess, model.EventNTLMAuth, model.JSON{
		"domain":      auth.domain,
		"username":    auth.username,
		"workstation": auth.workstation,
		"lm_response": hex.EncodeToString(auth.lmResponse),
		"nt_response": hex.EncodeToString(auth.ntResponse),
	})
	_, _ = conn.Write(authResultResponse())
}

// readNetBIOS reads a 4-byte NetBIOS session message header
// (type byte + 3-byte big-endian length) followed by that many bytes.
func readNetBIOS(conn net.Conn) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := fullRead(conn, header); err != nil {
		return nil, err
	}
	length := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	body := make([]byte, length)
	if length > 0 {
		if _, err := fullRead(conn, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
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

func frameNetBIOS(body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	copy(out[4:], body)
	return out
}

// negotiateResponse builds a minimal SMB2 Negotiate response advertising
// dialect 3.1.1 and a random server GUID.
func negotiateResponse() []byte {
	guid := make([]byte, 16)
	_, _ = rand.Read(guid)

	body := make([]byte, 0, 128)
	body = append(body, []byte{0xFE, 'S', 'M', 'B'}...) // SMB2 header magic
	hdr := make([]byte, 60)
	body = append(body, hdr...)
	payload := make([]byte, 64)
	binary.LittleEndian.PutUint16(payload[2:], 0x0311) // dialect 3.1.1
	copy(payload[8:24], guid)
	body = append(body, payload...)
	return frameNetBIOS(body)
}

func challengeResponse(serverChallenge []byte) []byte {
	ntlmsspChallenge := buildNTLMChallenge(serverChallenge, "WORKGROUP")
	body := make([]byte, 0, 64+len(ntlmsspChallenge))
	body = append(body, []byte{0xFE, 'S', 'M', 'B'}...)
	body = append(body, make([]byte, 60)...)
	body = append(body, spnegoWrap(ntlmsspChallenge)...)
	return frameNetBIOS(body)
}

func authResultResponse() []byte {
	body := make([]byte, 0, 64)
	body = append(body, []byte{0xFE, 'S', 'M', 'B'}...)
	body = append(body, make([]byte, 60)...)
	return frameNetBIOS(body)
}

// ntlmsspOID is the DER body of OID 1.3.6.1.4.1.311.2.2.10, the NTLMSSP
// mechanism.
var ntlmsspOID = []byte{0x2b, 0x06, 0x01, 0x04, 0x01, 0x82, 0x37, 0x02, 0x02, 0x0a}

// derTag prepends tag and a DER-encoded length to content.
func derTag(tag byte, content []byte) []byte {
	n := len(content)
	out := []byte{tag}
	switch {
	case n < 0x80:
		out = append(out, byte(n))
	case n <= 0xff:
		out = append(out, 0x81, byte(n))
	default:
		out = append(out, 0x82, byte(n>>8), byte(n))
	}
	return append(out, content...)
}

// spnegoWrap builds the one fixed-shape SPNEGO structure a session-setup
// challenge needs: a NegTokenResp with negState accept-incomplete,
// supportedMech NTLMSSP, and the raw NTLMSSP blob as responseToken.
func spnegoWrap(ntlmssp []byte) []byte {
	inner := derTag(0xa0, []byte{0x0a, 0x01, 0x01}) // negState ENUMERATED accept-incomplete
	inner = append(inner, derTag(0xa1, derTag(0x06, ntlmsspOID))...)
	inner = append(inner, derTag(0xa2, derTag(0x04, ntlmssp))...)
	return derTag(0xa1, derTag(0x30, inner))
}

func buildNTLMChallenge(serverChallenge []byte, target string) []byte {
	targetBytes := utf16le(target)
	msg := make([]byte, 0, 48+len(targetBytes))
	msg = append(msg, []byte("NTLMSSP\x00")...)
	msg = append(msg, leUint32(2)...) // type 2
	msg = append(msg, leUint16(uint16(len(targetBytes)))...)
	msg = append(msg, leUint16(uint16(len(targetBytes)))...)
	msg = append(msg, leUint32(40)...) // target name offset
	msg = append(msg, leUint32(0x00008201)...)
	msg = append(msg, serverChallenge...)
	msg = append(msg, make([]byte, 8)...) // reserved
	msg = append(msg, targetBytes...)
	return msg
}

type ntlmAuthenticate struct {
	domain, username, workstation string
	lmResponse, ntResponse         []byte
}

// parseNTLMAuthenticate extracts the security buffers from a Type 3
// NTLMSSP Authenticate message: each is a (len, maxlen, offset) triple
// at a fixed header position.
func parseNTLMAuthenticate(body []byte) (ntlmAuthenticate, bool) {
	ntlmssp := unwrapSPNEGO(body)
	if len(ntlmssp) < 12 || string(ntlmssp[0:7]) != "NTLMSSP" {
		return ntlmAuthenticate{}, false
	}
	if binary.LittleEndian.Uint32(ntlmssp[8:12]) != 3 {
		return ntlmAuthenticate{}, false
	}
	if len(ntlmssp) < 64 {
		return ntlmAuthenticate{}, false
	}

	lm := readSecBuf(ntlmssp, 12)
	nt := readSecBuf(ntlmssp, 20)
	domain := readSecBuf(ntlmssp, 28)
	user := readSecBuf(ntlmssp, 36)
	wks := readSecBuf(ntlmssp, 44)

	return ntlmAuthenticate{
		domain:      utf16leDecode(domain),
		username:    utf16leDecode(user),
		workstation: utf16leDecode(wks),
		lmResponse:  lm,
		ntResponse:  nt,
	}, true
}

func readSecBuf(msg []byte, headerOffset int) []byte {
	if headerOffset+8 > len(msg) {
		return nil
	}
	length := binary.LittleEndian.Uint16(msg[headerOffset:])
	offset := binary.LittleEndian.Uint32(msg[headerOffset+4:])
	if int(offset)+int(length) > len(msg) || length == 0 {
		return nil
	}
	return msg[offset : int(offset)+int(length)]
}

// unwrapSPNEGO locates the NTLMSSP token inside a session-setup security
// blob without walking the full ASN.1 structure: the mechToken is the only
// place the NTLMSSP signature can occur, so scanning for it handles every
// wrapping a real client sends (raw, NegTokenInit, NegTokenResp).
func unwrapSPNEGO(body []byte) []byte {
	if idx := bytes.Index(body, []byte("NTLMSSP\x00")); idx >= 0 {
		return body[idx:]
	}
	return body
}

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return out
}

func utf16leDecode(b []byte) string {
	out := make([]byte, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, b[i])
	}
	return string(out)
}

func leUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func leUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
