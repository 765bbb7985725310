// Package ssh implements the SSH-2 honeypot emulator: accepts every
// password/public-key auth attempt, grants a PTY, and serves the
// shared fake shell. Spec §5 notes this emulator crosses into a
// blocking library (golang.org/x/crypto/ssh) on a dedicated goroutine
// per connection, unlike the rest of the pack which stays inside
// Go's native non-blocking net.Conn model end to end.
package ssh

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
	"github.com/syn2much/mantis/internal/shell"
)

const idleTimeout = 120 * time.Second

// Emulator is the SSH protocol emulator.
type Emulator struct {
	base    *service.Base
	port    int
	banner  string
	signer  ssh.Signer
	keyPath string
}

// New constructs the SSH emulator. hostKeyPath is where a generated
// host key is persisted across restarts.
func New(base *service.Base, port int, banner, hostKeyPath string) (*Emulator, error) {
	signer, err := loadOrCreateHostKey(hostKeyPath)
	if err != nil {
		return nil, err
	}
	return &Emulator{base: base, port: port, banner: banner, signer: signer, keyPath: hostKeyPath}, nil
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{
				"username": c.User(),
				"password": string(pass),
				"method":   "password",
			})
			return &ssh.Permissions{}, nil
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{
				"username":    c.User(),
				"fingerprint": ssh.FingerprintSHA256(key),
				"method":      "publickey",
			})
			return &ssh.Permissions{}, nil
		},
		ServerVersion: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.4",
	}
	config.AddHostKey(e.signer)

	_ = conn.SetDeadline(time.Now().Add(idleTimeout))
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		e.serveSession(ctx, sess, channel, requests, sshConn.User())
	}
}

func (e *Emulator) serveSession(ctx context.Context, sess *model.Session, channel ssh.Channel, requests <-chan *ssh.Request, username string) {
	defer channel.Close()

	ptyRequested := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyRequested = true
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go e.runShell(ctx, sess, channel, username)
			return
		case "exec":
			_ = req.Reply(true, nil)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
	_ = ptyRequested
}

func (e *Emulator) runShell(ctx context.Context, sess *model.Session, channel ssh.Channel, username string) {
	fmt.Fprintf(channel, "Welcome to Ubuntu 22.04.3 LTS (GNU/Linux 5.15.0-76-generic x86_64)\r\n\r\n")
	fmt.Fprintf(channel, "Last login: %s from %s\r\n", time.Now().Add(-2*time.Hour).Format("Mon Jan  2 15:04:05 2006"), sess.SrcIP)
	prompt := fmt.Sprintf("%s@honeypot:~# ", username)
	fmt.Fprint(channel, prompt)

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := channel.Read(buf)
		if err != nil || n == 0 {
			return
		}
		b := buf[0]
		switch b {
		case '\r', '\n':
			fmt.Fprint(channel, "\r\n")
			cmd := string(line)
			line = nil
			if shell.Exit(cmd) {
				return
			}
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": cmd, "username": username})
			out := shell.Respond(cmd)
			if out != "" {
				fmt.Fprint(channel, out, "\r\n")
			}
			fmt.Fprint(channel, prompt)
		case 0x7f, 0x08:
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Fprint(channel, "\b \b")
			}
		case 0x03:
			line = nil
			fmt.Fprint(channel, "^C\r\n", prompt)
		case 0x04:
			return
		default:
			line = append(line, b)
			_, _ = channel.Write(buf)
		}
	}
}

func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		return ssh.ParsePrivateKey(data)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
			block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
			_ = os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
		}
	}
	return signer, nil
}
