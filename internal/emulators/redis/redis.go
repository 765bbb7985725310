// Package redis implements a RESP-protocol honeypot emulator: inline
// and multibulk command parsing, and canned responses for the common
// administrative and data commands.
package redis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const (
	idleTimeout  = 30 * time.Second
	argPreviewCap = 256
	rawPreviewCap = 2048
)

const infoBlob = "# Server\r\nredis_version:7.0.5\r\nos:Linux\r\nconnected_clients:1\r\nused_memory_human:1.2M\r\n"

// Emulator is the Redis protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the Redis emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		args, raw, err := readCommand(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.base.Logger.Debug("closing session", "error", apperrors.NewClientProtocolError("redis", err))
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		e.handleCommand(ctx, sess, conn, args, raw)
	}
}

func (e *Emulator) handleCommand(ctx context.Context, sess *model.Session, conn net.Conn, args []string, raw string) {
	name := strings.ToUpper(args[0])

	argPreview := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		if len(a) > argPreviewCap {
			a = a[:argPreviewCap]
		}
		argPreview = append(argPreview, a)
	}
	if len(raw) > rawPreviewCap {
		raw = raw[:rawPreviewCap]
	}

	threat := isDestructive(name)
	e.base.Log(ctx, sess, model.EventCommand, model.JSON{"name": name, "args": argPreview, "raw": raw, "threat": threat})

	switch name {
	case "AUTH":
		var user, pass string
		if len(args) >= 3 {
			user, pass = args[1], args[2]
		} else if len(args) == 2 {
			pass = args[1]
		}
		e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": user, "password": pass})
		writeSimple(conn, "OK")
	case "PING":
		if len(args) > 1 {
			writeBulk(conn, args[1])
		} else {
			writeSimple(conn, "PONG")
		}
	case "ECHO":
		if len(args) > 1 {
			writeBulk(conn, args[1])
		} else {
			writeError(conn, "wrong number of arguments")
		}
	case "INFO":
		writeBulk(conn, infoBlob)
	case "DBSIZE":
		writeInt(conn, 42)
	case "CONFIG":
		if len(args) > 1 && strings.EqualFold(args[1], "GET") {
			writeArray(conn, []string{"maxmemory", "0"})
		} else {
			writeSimple(conn, "OK")
		}
	case "KEYS":
		writeArray(conn, []string{"session:1", "session:2", "cache:home"})
	case "GET":
		writeNil(conn)
	case "SET":
		writeSimple(conn, "OK")
	case "DEL":
		writeInt(conn, int64(len(args)-1))
	case "EXISTS":
		writeInt(conn, 0)
	case "TYPE":
		writeSimple(conn, "none")
	case "TTL", "PTTL":
		writeInt(conn, -2)
	case "SELECT":
		writeSimple(conn, "OK")
	case "FLUSHDB", "FLUSHALL":
		writeSimple(conn, "OK")
	case "SAVE":
		writeSimple(conn, "OK")
	case "SCAN":
		writeArray(conn, []string{"0"})
	case "CLIENT":
		writeSimple(conn, "OK")
	case "COMMAND":
		writeArray(conn, nil)
	case "CLUSTER":
		writeError(conn, "This instance has cluster support disabled")
	case "QUIT":
		writeSimple(conn, "OK")
	case "SHUTDOWN":
		writeError(conn, "shutdown refused")
	case "SLAVEOF", "REPLICAOF":
		writeSimple(conn, "OK")
	case "MODULE":
		writeError(conn, "module operations disabled")
	case "EVAL", "EVALSHA":
		writeNil(conn)
	default:
		writeError(conn, fmt.Sprintf("unknown command '%s'", name))
	}
}

func isDestructive(name string) bool {
	switch name {
	case "FLUSHDB", "FLUSHALL", "SHUTDOWN", "SLAVEOF", "REPLICAOF", "MODULE", "EVAL", "EVALSHA", "CONFIG":
		return true
	}
	return false
}

// readCommand reads either an inline command or a RESP multibulk
// array of bulk strings, returning the parsed args and the raw line(s).
func readCommand(reader *bufio.Reader) ([]string, string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, "", err
	}
	trimmed := strings.TrimRight(line, "\r\n")
	if trimmed == "" {
		return nil, "", nil
	}

	if trimmed[0] != '*' {
		return strings.Fields(trimmed), trimmed, nil
	}

	count, err := strconv.Atoi(trimmed[1:])
	if err != nil || count <= 0 {
		return nil, trimmed, nil
	}

	var raw strings.Builder
	raw.WriteString(trimmed)
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		header, err := reader.ReadString('\n')
		if err != nil {
			return nil, raw.String(), err
		}
		header = strings.TrimRight(header, "\r\n")
		if len(header) == 0 || header[0] != '$' {
			return nil, raw.String(), fmt.Errorf("malformed bulk header")
		}
		n, err := strconv.Atoi(header[1:])
		if err != nil || n < 0 {
			return nil, raw.String(), fmt.Errorf("malformed bulk length")
		}
		buf := make([]byte, n+2)
		if _, err := readFull(reader, buf); err != nil {
			return nil, raw.String(), err
		}
		args = append(args, string(buf[:n]))
		raw.WriteString(header)
		raw.WriteString(string(buf[:n]))
	}
	return args, raw.String(), nil
}

func readFull(reader *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeSimple(conn net.Conn, s string) { fmt.Fprintf(conn, "+%s\r\n", s) }
func writeError(conn net.Conn, s string)  { fmt.Fprintf(conn, "-ERR %s\r\n", s) }
func writeInt(conn net.Conn, n int64)     { fmt.Fprintf(conn, ":%d\r\n", n) }
func writeNil(conn net.Conn)              { fmt.Fprint(conn, "$-1\r\n") }

func writeBulk(conn net.Conn, s string) {
	fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(s), s)
}

func writeArray(conn net.Conn, items []string) {
	fmt.Fprintf(conn, "*%d\r\n", len(items))
	for _, item := range items {
		writeBulk(conn, item)
	}
}
