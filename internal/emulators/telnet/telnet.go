// Package telnet implements the Telnet honeypot emulator: a banner and
// login prompt, IAC negotiation stripped from input, then the same
// fake shell SSH uses.
package telnet

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
	"github.com/syn2much/mantis/internal/shell"
)

const idleTimeout = 120 * time.Second

const (
	iac  = 0xff
	will = 0xfb
	wont = 0xfc
	do   = 0xfd
	dont = 0xfe
	echo = 0x01
)

// Emulator is the Telnet protocol emulator.
type Emulator struct {
	base   *service.Base
	port   int
	banner string
}

// New constructs the Telnet emulator.
func New(base *service.Base, port int, banner string) *Emulator {
	if banner == "" {
		banner = "Ubuntu 22.04.3 LTS"
	}
	return &Emulator{base: base, port: port, banner: banner}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	fmt.Fprintf(conn, "%s\r\n\r\nlogin: ", e.banner)

	r := &telnetReader{conn: conn}
	username, ok := r.readLine()
	if !ok {
		return
	}

	_, _ = conn.Write([]byte{iac, will, echo})
	fmt.Fprint(conn, "Password: ")
	password, ok := r.readLine()
	if !ok {
		return
	}
	_, _ = conn.Write([]byte{iac, wont, echo})
	fmt.Fprint(conn, "\r\n")

	e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": username, "password": password})

	prompt := fmt.Sprintf("%s@honeypot:~$ ", username)
	fmt.Fprint(conn, prompt)
	for {
		line, ok := r.readLine()
		if !ok {
			return
		}
		if shell.Exit(line) {
			return
		}
		e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line, "username": username})
		if out := shell.Respond(line); out != "" {
			fmt.Fprint(conn, out, "\r\n")
		}
		fmt.Fprint(conn, prompt)
	}
}

// telnetReader reads lines, stripping 3-byte IAC negotiation sequences.
type telnetReader struct {
	conn net.Conn
}

func (r *telnetReader) readLine() (string, bool) {
	_ = r.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.conn.Read(buf)
		if err != nil || n == 0 {
			return "", false
		}
		b := buf[0]
		if b == iac {
			skip := make([]byte, 2)
			if _, err := r.conn.Read(skip); err != nil {
				return "", false
			}
			continue
		}
		if b == '\r' {
			continue
		}
		if b == '\n' {
			return string(line), true
		}
		line = append(line, b)
	}
}
