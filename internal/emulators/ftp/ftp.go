// Package ftp implements the FTP (RFC 959) honeypot emulator.
package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const idleTimeout = 60 * time.Second

// Emulator is the FTP protocol emulator.
type Emulator struct {
	base   *service.Base
	port   int
	banner string
}

// New constructs the FTP emulator.
func New(base *service.Base, port int, banner string) *Emulator {
	if banner == "" {
		banner = "vsFTPd 3.0.3"
	}
	return &Emulator{base: base, port: port, banner: banner}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	write(conn, "220 %s ready.", e.banner)
	reader := bufio.NewReader(conn)
	var username string

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := strings.ToUpper(fields[0])
		var arg string
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch cmd {
		case "USER":
			username = arg
			e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": arg, "stage": "user"})
			write(conn, "331 Please specify the password.")
		case "PASS":
			e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"username": username, "password": arg, "stage": "pass"})
			write(conn, "230 Login successful.")
		case "SYST":
			write(conn, "215 UNIX Type: L8")
		case "PWD":
			write(conn, `257 "/" is the current directory`)
		case "TYPE":
			write(conn, "200 Switching to %s mode.", arg)
		case "PASV":
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			host, _ := splitIPv4(conn.LocalAddr())
			write(conn, "227 Entering Passive Mode (%s,195,80).", host)
		case "LIST", "NLST":
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			write(conn, "150 Here comes the directory listing.")
			time.Sleep(200 * time.Millisecond)
			write(conn, "226 Directory send OK.")
		case "RETR":
			e.base.Log(ctx, sess, model.EventFileTransfer, model.JSON{"direction": "download", "filename": arg})
			write(conn, "550 Failed to open file.")
		case "STOR":
			write(conn, "150 Ok to send data.")
			drained, _ := io.Copy(io.Discard, io.LimitReader(conn, 64*1024))
			e.base.Log(ctx, sess, model.EventFileTransfer, model.JSON{"direction": "upload", "filename": arg, "bytes": drained})
			write(conn, "226 Transfer complete.")
		case "CWD":
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			write(conn, `250 Directory successfully changed.`)
		case "MKD":
			write(conn, `257 "%s" created`, arg)
		case "SIZE":
			write(conn, "550 Could not get file size.")
		case "MDTM":
			write(conn, "550 Could not get file modification time.")
		case "FEAT":
			write(conn, "211-Features:\r\n EPRT\r\n EPSV\r\n MDTM\r\n PASV\r\n SIZE\r\n211 End")
		case "OPTS":
			write(conn, "200 OK.")
		case "QUIT":
			write(conn, "221 Goodbye.")
			return
		default:
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": line})
			write(conn, "502 Command not implemented.")
		}
	}
}

func write(conn net.Conn, format string, args ...any) {
	fmt.Fprintf(conn, format+"\r\n", args...)
}

func splitIPv4(addr net.Addr) (string, error) {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "127,0,0,1", err
	}
	return strings.ReplaceAll(host, ".", ","), nil
}
