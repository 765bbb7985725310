// Package service provides the shared skeleton every protocol emulator
// embeds: session bookkeeping, event logging wired to the detection
// engine, and a listener accept loop that isolates per-connection
// panics. Modeled on the teacher's small service-wrapper pattern
// (construct once, Serve blocks, failures are logged and contained)
// generalized from HTTP middleware chaining to raw TCP listeners.
package service

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

// Store is the subset of *storage.Store an emulator needs.
type Store interface {
	SaveSession(ctx context.Context, s *model.Session) error
	SaveEvent(ctx context.Context, e *model.Event) (*model.Event, error)
}

// GeoResolver is the subset of *geo.Locator an emulator needs.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*model.GeoInfo, error)
}

// DetectionEngine is the subset of *detection.Engine an emulator needs.
type DetectionEngine interface {
	Process(ctx context.Context, ev *model.Event)
}

// Handler is a per-connection protocol implementation. Implementations
// must not retain conn past return; Base closes it.
type Handler func(ctx context.Context, sess *model.Session, conn net.Conn)

// Base is the common skeleton embedded by every protocol emulator.
type Base struct {
	Name   string
	Store  Store
	Geo    GeoResolver
	Engine DetectionEngine
	Logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closing  bool
}

// NewBase constructs a Base for the named service.
func NewBase(name string, store Store, geo GeoResolver, engine DetectionEngine) *Base {
	return &Base{
		Name:   name,
		Store:  store,
		Geo:    geo,
		Engine: engine,
		Logger: slog.Default().With("service", name),
	}
}

// Serve binds 0.0.0.0:port, then accepts connections until ctx is
// canceled or Stop is called, dispatching each to handler on its own
// goroutine. A per-connection panic is recovered, logged, and does not
// bring down the listener.
func (b *Base) Serve(ctx context.Context, port int, handler Handler) error {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &apperrors.BindError{Service: b.Name, Addr: addr, Cause: err}
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	b.Logger.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			b.mu.Lock()
			closing := b.closing
			b.mu.Unlock()
			if closing {
				return nil
			}
			b.Logger.Warn("accept failed", "error", err)
			continue
		}
		b.wg.Add(1)
		go b.dispatch(ctx, conn, handler)
	}
}

func (b *Base) dispatch(ctx context.Context, conn net.Conn, handler Handler) {
	defer b.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("connection handler panicked", "panic", r)
		}
	}()

	sess := b.createSession(ctx, conn)
	handler(ctx, sess, conn)
	b.endSession(ctx, sess)
}

// Stop closes the listener, preventing new connections. It does not
// wait for in-flight handlers; call Wait for that.
func (b *Base) Stop() {
	b.mu.Lock()
	b.closing = true
	ln := b.listener
	b.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

// Wait blocks until every dispatched handler has returned.
func (b *Base) Wait() {
	b.wg.Wait()
}

// createSession persists a new Session for conn, emits a connection
// event, and spawns a background geo lookup to warm the cache.
func (b *Base) createSession(ctx context.Context, conn net.Conn) *model.Session {
	srcIP, srcPort := splitHostPort(conn.RemoteAddr())
	_, dstPort := splitHostPort(conn.LocalAddr())

	sess := &model.Session{
		ID:        uuid.NewString(),
		Service:   b.Name,
		SrcIP:     srcIP,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		StartedAt: time.Now().UTC(),
		Metadata:  model.JSON{},
	}

	if err := b.Store.SaveSession(ctx, sess); err != nil {
		b.Logger.Warn("save session failed", "error", err)
	}
	b.Log(ctx, sess, model.EventConnection, nil)

	if b.Geo != nil {
		go func() {
			geoCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := b.Geo.Resolve(geoCtx, srcIP); err != nil {
				b.Logger.Debug("geo lookup failed", "ip", srcIP, "error", err)
			}
		}()
	}

	return sess
}

// Log persists an Event for sess and feeds it synchronously to the
// detection engine.
func (b *Base) Log(ctx context.Context, sess *model.Session, kind model.EventKind, payload model.JSON) {
	ev := &model.Event{
		SessionID: sess.ID,
		Kind:      kind,
		Service:   b.Name,
		SrcIP:     sess.SrcIP,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	saved, err := b.Store.SaveEvent(ctx, ev)
	if err != nil {
		b.Logger.Warn("save event failed", "kind", kind, "error", err)
		return
	}
	if b.Engine != nil {
		b.Engine.Process(ctx, saved)
	}
}

// endSession sets the session's end timestamp, persists it, and emits
// a disconnect event.
func (b *Base) endSession(ctx context.Context, sess *model.Session) {
	now := time.Now().UTC()
	sess.EndedAt = &now
	if err := b.Store.SaveSession(ctx, sess); err != nil {
		b.Logger.Warn("save session on end failed", "error", err)
	}
	b.Log(ctx, sess, model.EventDisconnect, nil)
}

func splitHostPort(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
