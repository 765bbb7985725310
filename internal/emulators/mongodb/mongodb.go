// Package mongodb implements a MongoDB wire protocol honeypot
// emulator: enough of OP_QUERY (2004) and OP_MSG (2013) to drain
// isMaster/hello, saslStart/Continue, listDatabases, find/aggregate,
// ping, buildInfo, and serverStatus.
package mongodb

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

const (
	idleTimeout = 30 * time.Second
	opQuery     = 2004
	opMsg       = 2013
	opReply     = 1
)

// Emulator is the MongoDB protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the MongoDB emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		msg, err := readMessage(conn)
		if err != nil {
			return
		}
		e.handleMessage(ctx, sess, conn, msg)
	}
}

type message struct {
	requestID int32
	opcode    int32
	body      bson.M
}

func readMessage(conn net.Conn) (*message, error) {
	header := make([]byte, 16)
	if _, err := fullRead(conn, header); err != nil {
		return nil, err
	}
	length := int32(binary.LittleEndian.Uint32(header[0:4]))
	requestID := int32(binary.LittleEndian.Uint32(header[4:8]))
	opcode := int32(binary.LittleEndian.Uint32(header[12:16]))

	remaining := int(length) - 16
	if remaining < 0 {
		remaining = 0
	}
	rest := make([]byte, remaining)
	if remaining > 0 {
		if _, err := fullRead(conn, rest); err != nil {
			return nil, err
		}
	}

	doc := extractCommandDoc(opcode, rest)
	return &message{requestID: requestID, opcode: opcode, body: doc}, nil
}

// extractCommandDoc pulls the first embedded BSON document out of an
// OP_QUERY or OP_MSG payload. OP_QUERY carries flags+collection+skip+
// return before the document; OP_MSG carries a flag word then a
// section-0 document.
func extractCommandDoc(opcode int32, rest []byte) bson.M {
	var docBytes []byte
	switch opcode {
	case opQuery:
		offset := 4
		nameEnd := indexByte(rest[offset:], 0)
		if nameEnd < 0 {
			return bson.M{}
		}
		offset += nameEnd + 1 + 8
		if offset >= len(rest) {
			return bson.M{}
		}
		docBytes = rest[offset:]
	case opMsg:
		if len(rest) < 5 {
			return bson.M{}
		}
		docBytes = rest[5:]
	default:
		return bson.M{}
	}

	var doc bson.M
	if err := bson.Unmarshal(docBytes, &doc); err != nil {
		return bson.M{}
	}
	return doc
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
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

func firstKey(doc bson.M) string {
	for k := range doc {
		return k
	}
	return ""
}

func (e *Emulator) handleMessage(ctx context.Context, sess *model.Session, conn net.Conn, msg *message) {
	cmd := firstKey(msg.body)

	switch cmd {
	case "isMaster", "ismaster", "hello":
		e.reply(conn, msg, helloResponse())
	case "saslStart":
		e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"mechanism": msg.body["mechanism"], "stage": "start"})
		e.reply(conn, msg, bson.M{"ok": 1, "conversationId": 1, "done": false, "payload": []byte{}})
	case "saslContinue":
		e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{"stage": "continue"})
		e.reply(conn, msg, bson.M{"ok": 1, "conversationId": 1, "done": true, "payload": []byte{}})
	case "authenticate":
		e.base.Log(ctx, sess, model.EventAuthAttempt, model.JSON{
			"username": msg.body["user"], "mechanism": msg.body["mechanism"],
		})
		e.reply(conn, msg, bson.M{"ok": 1})
	case "listDatabases":
		e.base.Log(ctx, sess, model.EventQuery, model.JSON{"command": "listDatabases"})
		e.reply(conn, msg, bson.M{
			"ok": 1,
			"databases": []bson.M{
				{"name": "admin"}, {"name": "config"}, {"name": "local"},
				{"name": "production"}, {"name": "users"},
			},
		})
	case "find", "aggregate":
		e.base.Log(ctx, sess, model.EventQuery, model.JSON{"command": cmd, "collection": msg.body[cmd]})
		e.reply(conn, msg, bson.M{"ok": 1, "cursor": bson.M{"id": int64(0), "ns": "production.collection", "firstBatch": []bson.M{}}})
	case "ping":
		e.reply(conn, msg, bson.M{"ok": 1})
	case "buildInfo", "buildinfo":
		e.reply(conn, msg, bson.M{"ok": 1, "version": "6.0.4", "gitVersion": "unknown"})
	case "serverStatus":
		e.reply(conn, msg, bson.M{"ok": 1, "uptime": 834521, "connections": bson.M{"current": 3, "available": 51197}})
	case "usersInfo":
		e.base.Log(ctx, sess, model.EventQuery, model.JSON{"command": "usersInfo"})
		e.reply(conn, msg, bson.M{"ok": 1, "users": []bson.M{}})
	default:
		e.base.Log(ctx, sess, model.EventQuery, model.JSON{"command": cmd})
		e.reply(conn, msg, bson.M{"ok": 1})
	}
}

func helloResponse() bson.M {
	return bson.M{
		"ismaster":                     true,
		"maxBsonObjectSize":            16777216,
		"maxMessageSizeBytes":          48000000,
		"maxWriteBatchSize":            100000,
		"minWireVersion":               0,
		"maxWireVersion":               17,
		"readOnly":                     false,
		"ok":                           1,
	}
}

func (e *Emulator) reply(conn net.Conn, msg *message, doc bson.M) {
	body, err := bson.Marshal(doc)
	if err != nil {
		return
	}
	var payload []byte
	var opcode int32
	switch msg.opcode {
	case opMsg:
		payload = append(make([]byte, 5), body...) // 4 flag-bit bytes + section kind 0
		opcode = opMsg
	default:
		payload = make([]byte, 20)
		binary.LittleEndian.PutUint32(payload[16:], 1) // numberReturned
		payload = append(payload, body...)
		opcode = opReply
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:], uint32(16+len(payload)))
	binary.LittleEndian.PutUint32(header[8:], uint32(msg.requestID))
	binary.LittleEndian.PutUint32(header[12:], uint32(opcode))

	_, _ = conn.Write(append(header, payload...))
}
