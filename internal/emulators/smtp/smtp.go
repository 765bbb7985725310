// Package smtp implements an ESMTP honeypot emulator: EHLO feature
// list, AUTH LOGIN/PLAIN credential capture, and DATA body capture.
package smtp

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const (
	idleTimeout    = 60 * time.Second
	maxBodyPreview = 4096
)

// Emulator is the SMTP protocol emulator.
type Emulator struct {
	base   *service.Base
	port   int
	banner string
}

// New constructs the SMTP emulator.
func New(base *service.Base, port int, banner string) *Emulator {
	if banner == "" {
		banner = "mail.honeypot.local ESMTP Postfix"
	}
	return &Emulator{base: base, port: port, banner: banner}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	fmt.Fprintf(conn, "220 %s\r\n", e.banner)
	reader := bufio.NewReader(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"):
			fmt.Fprint(conn, "250-mail.honeypot.local\r\n"+
				"250-SIZE 35882577\r\n"+
				"250-8BITMIME\r\n"+
				"250-PIPELINING\r\n"+
				"250-STARTTLS\r\n"+
				"250 AUTH LOGIN PLAIN\r\n")
		case strings.HasPrefix(upper, "HELO"):
			fmt.Fprint(conn, "250 mail.honeypot.local\r\n")
		case strings.HasPrefix(upper, "STARTTLS"):
			fmt.Fprint(conn, "454 TLS not available due to temporary reason\r\n")
		case strings.HasPrefix(upper, "AUTH LOGIN"):
			e.handleAuthLogin(ctx, sess, conn, reader, line)
		case strings.HasPrefix(upper, "AUTH PLAIN"):
			e.handleAuthPlain(ctx, sess, conn, reader, line)
		case strings.HasPrefix(upper, "MAIL FROM"):
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			fmt.Fprint(conn, "250 OK\r\n")
		case strings.HasPrefix(upper, "RCPT TO"):
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			fmt.Fprint(conn, "250 OK\r\n")
		case upper == "DATA":
			e.handleData(ctx, sess, conn, reader)
		case upper == "RSET":
			fmt.Fprint(conn, "250 OK\r\n")
		case upper == "NOOP":
			fmt.Fprint(conn, "250 OK\r\n")
		case strings.HasPrefix(upper, "VRFY"), strings.HasPrefix(upper, "EXPN"):
			fmt.Fprint(conn, "252 Cannot VRFY user\r\n")
		case upper == "QUIT":
			fmt.Fprint(conn, "221 Bye\r\n")
			return
		default:
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			fmt.Fprint(conn, "500 Command not recognized\r\n")
		}
	}
}

func (e *Emulator) handleAuthLogin(ctx context.Context, sess *model.Session, conn net.Conn, reader *bufio.Reader, line string) {
	fields := strings.Fields(line)
	var username string
	if len(fields) > 2 {
		if decoded, err := base64.StdEncoding.DecodeString(fields[2]); err == nil {
			username = string(decoded)
		}
	} else {
		fmt.Fprint(conn, "334 VXNlcm5hbWU6\r\n")
		u, err := readLine(reader, conn)
		if err != nil {
			return
		}
		if decoded, err := base64.StdEncoding.DecodeString(u); err == nil {
			username = string(decoded)
		}
	}

	fmt.Fprint(conn, "334 UGFzc3dvcmQ6\r\n")
	p, err := readLine(reader, conn)
	if err != nil {
		return
	}
	password, _ := base64.StdEncoding.DecodeString(p)

	e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": username, "password": string(password), "method": "login"})
	fmt.Fprint(conn, "235 2.7.0 Authentication successful\r\n")
}

func (e *Emulator) handleAuthPlain(ctx context.Context, sess *model.Session, conn net.Conn, reader *bufio.Reader, line string) {
	fields := strings.Fields(line)
	var encoded string
	if len(fields) > 2 {
		encoded = fields[2]
	} else {
		fmt.Fprint(conn, "334 \r\n")
		l, err := readLine(reader, conn)
		if err != nil {
			return
		}
		encoded = l
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	username, password := "", ""
	if err == nil {
		parts := strings.Split(string(decoded), "\x00")
		if len(parts) == 3 {
			username, password = parts[1], parts[2]
		}
	}
	e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": username, "password": password, "method": "plain"})
	fmt.Fprint(conn, "235 2.7.0 Authentication successful\r\n")
}

func (e *Emulator) handleData(ctx context.Context, sess *model.Session, conn net.Conn, reader *bufio.Reader) {
	fmt.Fprint(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
	var body strings.Builder
	lines := 0
	for {
		line, err := readLine(reader, conn)
		if err != nil {
			return
		}
		if line == "." {
			break
		}
		lines++
		if body.Len() < maxBodyPreview {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	preview := body.String()
	if len(preview) > maxBodyPreview {
		preview = preview[:maxBodyPreview]
	}
	e.base.Log(ctx, sess, model.EventRequest, model.JSON{"body": preview, "line_count": lines})
	fmt.Fprint(conn, "250 OK: queued\r\n")
}

func readLine(reader *bufio.Reader, conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
