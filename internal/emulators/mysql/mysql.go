// Package mysql implements a MySQL protocol v10 honeypot emulator:
// handshake, auth response capture, and a small set of canned query
// responses.
package mysql

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const idleTimeout = 60 * time.Second

// Emulator is the MySQL protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the MySQL emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	scramble := make([]byte, 21)
	_, _ = rand.Read(scramble)
	scramble[20] = 0

	if err := writePacket(conn, 0, buildHandshake(scramble)); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	_, authPacket, err := readPacket(conn)
	if err != nil {
		return
	}
	username := parseHandshakeResponseUsername(authPacket)
	e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": username})
	if err := writeOK(conn, 2); err != nil {
		return
	}

	seq := byte(3)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, payload, err := readPacket(conn)
		if err != nil {
			return
		}
		if len(payload) == 0 {
			continue
		}
		switch payload[0] {
		case 0x01: // COM_QUIT
			return
		case 0x03: // COM_QUERY
			query := string(payload[1:])
			e.base.Log(ctx, sess, model.EventQuery, model.JSON{"query": query})
			respondToQuery(conn, &seq, query)
		default:
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"opcode": payload[0]})
			_ = writeOK(conn, seq)
			seq++
		}
	}
}

func buildHandshake(scramble []byte) []byte {
	buf := []byte{10} // protocol version
	buf = append(buf, []byte("8.0.35-honeypot\x00")...)
	buf = append(buf, leUint32(1)...) // connection id
	buf = append(buf, scramble[:8]...)
	buf = append(buf, 0) // filler
	buf = append(buf, leUint16(0xFFFF)...) // capability flags lower
	buf = append(buf, 0xff)                // charset
	buf = append(buf, leUint16(2)...)       // status flags
	buf = append(buf, leUint16(0xFFFF)...)  // capability flags upper
	buf = append(buf, byte(len(scramble)+1))
	buf = append(buf, make([]byte, 10)...) // reserved
	buf = append(buf, scramble[8:]...)
	buf = append(buf, []byte("mysql_native_password\x00")...)
	return buf
}

func parseHandshakeResponseUsername(payload []byte) string {
	if len(payload) < 32 {
		return ""
	}
	rest := payload[32:]
	idx := indexByte(rest, 0)
	if idx < 0 {
		return string(rest)
	}
	return string(rest[:idx])
}

func respondToQuery(conn net.Conn, seq *byte, query string) {
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.Contains(upper, "@@VERSION"):
		writeTextResultSet(conn, seq, []string{"@@version"}, [][]string{{"8.0.35-honeypot"}})
	case strings.Contains(upper, "DATABASE()"):
		writeTextResultSet(conn, seq, []string{"database()"}, [][]string{{"information_schema"}})
	case strings.HasPrefix(upper, "SHOW DATABASES"):
		writeTextResultSet(conn, seq, []string{"Database"}, [][]string{{"information_schema"}, {"mysql"}, {"performance_schema"}, {"production"}})
	case strings.HasPrefix(upper, "SHOW TABLES"):
		writeTextResultSet(conn, seq, []string{"Tables_in_production"}, [][]string{{"users"}, {"orders"}, {"sessions"}})
	case strings.HasPrefix(upper, "SELECT"):
		writeTextResultSet(conn, seq, []string{"result"}, [][]string{{"1"}})
	default:
		_ = writeOK(conn, *seq)
		*seq++
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
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
