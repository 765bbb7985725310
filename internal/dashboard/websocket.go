package dashboard

import (
	"context"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsClient owns one accepted WebSocket connection and the dedicated
// writer goroutine that drains its send channel, since coder/websocket's
// Conn.Write is not safe for concurrent callers.
type wsClient struct {
	conn *websocket.Conn
	out  chan []byte
}

func (c *wsClient) send(payload []byte) {
	select {
	case c.out <- payload:
	default:
		// client too slow to keep up; drop rather than block the broadcaster
	}
}

func (c *wsClient) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-c.out:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteWait)
			err := c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, wsWriteWait)
			err := c.conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// wsHandler upgrades the request and streams every event/alert/out-of-band
// broadcast to the client until it disconnects or the server shuts down.
// The handler never expects inbound application messages; it only reads
// to detect client-initiated close.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	client := &wsClient{conn: conn, out: make(chan []byte, wsSendBuffer)}
	s.broadcaster.register(client)
	defer s.broadcaster.unregister(client)

	go client.writeLoop(ctx)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}
