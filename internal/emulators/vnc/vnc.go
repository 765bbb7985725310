// Package vnc implements an RFB 3.8 honeypot emulator: VNC
// Authentication handshake (always accepted), a fake 1024x768
// framebuffer, and draining of the common client message types.
package vnc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const (
	idleTimeout        = 60 * time.Second
	securityVNCAuth     = 2
	maxClipboardPreview = 4096
)

// Emulator is the VNC protocol emulator.
type Emulator struct {
	base       *service.Base
	port       int
	desktopName string
}

// New constructs the VNC emulator.
func New(base *service.Base, port int, desktopName string) *Emulator {
	if desktopName == "" {
		desktopName = "honeypot-desktop"
	}
	return &Emulator{base: base, port: port, desktopName: desktopName}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(idleTimeout))

	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		return
	}
	clientVersion := make([]byte, 12)
	if _, err := io.ReadFull(conn, clientVersion); err != nil {
		return
	}

	if _, err := conn.Write([]byte{1, securityVNCAuth}); err != nil {
		return
	}
	secType := make([]byte, 1)
	if _, err := io.ReadFull(conn, secType); err != nil {
		return
	}

	challenge := make([]byte, 16)
	_, _ = rand.Read(challenge)
	if _, err := conn.Write(challenge); err != nil {
		return
	}
	response := make([]byte, 16)
	if _, err := io.ReadFull(conn, response); err != nil {
		return
	}
	e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{
		"challenge": hex.EncodeToString(challenge),
		"response":  hex.EncodeToString(response),
	})

	okResult := make([]byte, 4)
	if _, err := conn.Write(okResult); err != nil {
		return
	}

	clientInit := make([]byte, 1)
	if _, err := io.ReadFull(conn, clientInit); err != nil {
		return
	}
	if _, err := conn.Write(serverInit(e.desktopName)); err != nil {
		return
	}

	e.messageLoop(ctx, sess, conn)
}

func serverInit(desktopName string) []byte {
	buf := make([]byte, 0, 24+len(desktopName))
	buf = append(buf, beUint16(1024)...)
	buf = append(buf, beUint16(768)...)
	buf = append(buf, []byte{32, 24, 0, 1}...) // bpp, depth, big-endian, true-color
	buf = append(buf, beUint16(255)...)        // red-max
	buf = append(buf, beUint16(255)...)        // green-max
	buf = append(buf, beUint16(255)...)        // blue-max
	buf = append(buf, []byte{16, 8, 0, 0, 0, 0}...)
	buf = append(buf, beUint32(uint32(len(desktopName)))...)
	buf = append(buf, []byte(desktopName)...)
	return buf
}

func (e *Emulator) messageLoop(ctx context.Context, sess *model.Session, conn net.Conn) {
	msgType := make([]byte, 1)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if _, err := io.ReadFull(conn, msgType); err != nil {
			return
		}
		switch msgType[0] {
		case 0: // SetPixelFormat
			if _, err := io.CopyN(io.Discard, conn, 19); err != nil {
				return
			}
		case 2: // SetEncodings
			header := make([]byte, 3)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			n := binary.BigEndian.Uint16(header[1:])
			if _, err := io.CopyN(io.Discard, conn, int64(n)*4); err != nil {
				return
			}
		case 3: // FramebufferUpdateRequest
			if _, err := io.CopyN(io.Discard, conn, 9); err != nil {
				return
			}
			_, _ = conn.Write([]byte{0, 0, 0, 0})
		case 4: // KeyEvent
			body := make([]byte, 7)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			down := body[0]
			keysym := binary.BigEndian.Uint32(body[3:])
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"key_sym": keysym, "down": down != 0})
		case 5: // PointerEvent
			if _, err := io.CopyN(io.Discard, conn, 5); err != nil {
				return
			}
		case 6: // ClientCutText
			header := make([]byte, 7)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			length := binary.BigEndian.Uint32(header[3:])
			readLen := length
			if readLen > maxClipboardPreview {
				readLen = maxClipboardPreview
			}
			text := make([]byte, readLen)
			if _, err := io.ReadFull(conn, text); err != nil {
				return
			}
			if length > readLen {
				if _, err := io.CopyN(io.Discard, conn, int64(length-readLen)); err != nil {
					return
				}
			}
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"clipboard": string(text)})
		default:
			return
		}
	}
}

func beUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func beUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
