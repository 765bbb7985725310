package service

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []*model.Session
	events   []*model.Event
}

func (f *fakeStore) SaveSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeStore) SaveEvent(_ context.Context, e *model.Event) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *e
	saved.ID = int64(len(f.events) + 1)
	f.events = append(f.events, &saved)
	return &saved, nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeEngine struct {
	mu  sync.Mutex
	got []*model.Event
}

func (e *fakeEngine) Process(_ context.Context, ev *model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestBaseServeDispatchesConnectionAndLogsLifecycle(t *testing.T) {
	store := &fakeStore{}
	engine := &fakeEngine{}
	base := NewBase("test", store, nil, engine)

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{})
	go func() {
		_ = base.Serve(ctx, port, func(ctx context.Context, sess *model.Session, conn net.Conn) {
			close(handled)
		})
	}()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	// Give endSession's synchronous logging a moment to land.
	require.Eventually(t, func() bool {
		return store.eventCount() >= 2
	}, time.Second, 10*time.Millisecond, "expected connection and disconnect events")

	assert.Equal(t, model.EventConnection, store.events[0].Kind)
	assert.Equal(t, model.EventDisconnect, store.events[1].Kind)
	assert.Len(t, store.sessions, 2, "one insert, one end-of-session update")
}

func TestBasePanicInHandlerIsRecovered(t *testing.T) {
	store := &fakeStore{}
	base := NewBase("test", store, nil, nil)

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = base.Serve(ctx, port, func(ctx context.Context, sess *model.Session, conn net.Conn) {
			panic("boom")
		})
	}()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	conn.Close()

	// The listener must still be accepting connections after the panic.
	require.Eventually(t, func() bool {
		c, dialErr := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if dialErr != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

