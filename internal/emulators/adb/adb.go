// Package adb implements the Android Debug Bridge wire-protocol
// honeypot emulator: CNXN/AUTH handshake (always accepted) and an
// OPEN/WRTE/CLSE/OKAY shell session reusing the shared fake shell.
package adb

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
	"github.com/syn2much/mantis/internal/shell"
)

const idleTimeout = 60 * time.Second

const (
	aCnxn = 0x4e584e43
	aOpen = 0x4e45504f
	aOkay = 0x59414b4f
	aClse = 0x45534c43
	aWrte = 0x45545257
	aAuth = 0x48545541
)

type frame struct {
	command, arg0, arg1, dataLen uint32
	data                         []byte
}

// Emulator is the ADB protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the ADB emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	var localID uint32 = 1
	streamOpen := false

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		f, err := readFrame(conn)
		if err != nil {
			return
		}

		switch f.command {
		case aCnxn:
			writeFrame(conn, aCnxn, 0x01000000, 4096, []byte("device::ro.product.name=honeypot;ro.product.model=Pixel;ro.product.device=honeypot;"))
		case aAuth:
			writeFrame(conn, aCnxn, 0x01000000, 4096, []byte("device::ro.product.name=honeypot;"))
		case aOpen:
			destination := strings.TrimRight(string(f.data), "\x00")
			localID = f.arg1
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"destination": destination, "stage": "open"})
			streamOpen = true
			writeFrame(conn, aOkay, localID, f.arg0, nil)

			if cmd, ok := strings.CutPrefix(destination, "shell:"); ok && cmd != "" {
				e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": cmd})
				out := shell.Respond(cmd)
				writeFrame(conn, aWrte, localID, f.arg0, []byte(out+"\n"))
				writeFrame(conn, aClse, localID, f.arg0, nil)
				streamOpen = false
			} else {
				writeFrame(conn, aWrte, localID, f.arg0, []byte("honeypot:/ $ "))
			}
		case aWrte:
			cmd := strings.TrimRight(string(f.data), "\r\n")
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"command": cmd})
			writeFrame(conn, aOkay, localID, f.arg0, nil)
			if streamOpen && cmd != "" {
				out := shell.Respond(cmd)
				writeFrame(conn, aWrte, localID, f.arg0, []byte(out+"\nhoneypot:/ $ "))
			}
		case aClse:
			streamOpen = false
			writeFrame(conn, aClse, localID, f.arg0, nil)
		case aOkay:
			// ack, nothing to do
		default:
			e.base.Log(ctx, sess, model.EventCommand, model.JSON{"unknown_opcode": f.command})
		}
	}
}

func readFrame(conn net.Conn) (*frame, error) {
	header := make([]byte, 24)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	f := &frame{
		command: binary.LittleEndian.Uint32(header[0:4]),
		arg0:    binary.LittleEndian.Uint32(header[4:8]),
		arg1:    binary.LittleEndian.Uint32(header[8:12]),
		dataLen: binary.LittleEndian.Uint32(header[12:16]),
	}
	if f.dataLen > 0 {
		data := make([]byte, f.dataLen)
		if _, err := io.ReadFull(conn, data); err != nil {
			return nil, err
		}
		f.data = data
	}
	return f, nil
}

func writeFrame(conn net.Conn, command, arg0, arg1 uint32, data []byte) {
	header := make([]byte, 24)
	binary.LittleEndian.PutUint32(header[0:], command)
	binary.LittleEndian.PutUint32(header[4:], arg0)
	binary.LittleEndian.PutUint32(header[8:], arg1)
	binary.LittleEndian.PutUint32(header[12:], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[16:], checksum(data))
	binary.LittleEndian.PutUint32(header[20:], command^0xFFFFFFFF)
	_, _ = conn.Write(append(header, data...))
}

func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
