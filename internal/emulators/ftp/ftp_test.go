package ftp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/service"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*model.Event
}

func (f *fakeStore) SaveSession(context.Context, *model.Session) error { return nil }

func (f *fakeStore) SaveEvent(_ context.Context, e *model.Event) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *e
	saved.ID = int64(len(f.events) + 1)
	f.events = append(f.events, &saved)
	return &saved, nil
}

func (f *fakeStore) eventsOfKind(kind model.EventKind) []*model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestHandleConnLoginConversation(t *testing.T) {
	store := &fakeStore{}
	emu := New(service.NewBase("ftp", store, nil, nil), 0, "")

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		emu.handleConn(context.Background(), &model.Session{ID: "s1", SrcIP: "203.0.113.9"}, server)
	}()

	r := bufio.NewReader(client)
	readReply := func() string {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(line, "\r\n")
	}
	sendLine := func(s string) {
		_, err := client.Write([]byte(s + "\r\n"))
		require.NoError(t, err)
	}

	assert.True(t, strings.HasPrefix(readReply(), "220 "), "expected service-ready banner")

	sendLine("USER anonymous")
	assert.True(t, strings.HasPrefix(readReply(), "331 "))

	sendLine("PASS hunter2")
	assert.True(t, strings.HasPrefix(readReply(), "230 "))

	sendLine("SYST")
	assert.Equal(t, "215 UNIX Type: L8", readReply())

	sendLine("RETR secrets.tar")
	assert.True(t, strings.HasPrefix(readReply(), "550 "))

	sendLine("BOGUS")
	assert.True(t, strings.HasPrefix(readReply(), "502 "))

	sendLine("QUIT")
	assert.True(t, strings.HasPrefix(readReply(), "221 "))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never returned after QUIT")
	}

	auths := store.eventsOfKind(model.EventAuthAttempt)
	require.Len(t, auths, 2)
	assert.Equal(t, "anonymous", auths[0].Payload["username"])
	assert.Equal(t, "hunter2", auths[1].Payload["password"])

	transfers := store.eventsOfKind(model.EventFileTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, "download", transfers[0].Payload["direction"])
	assert.Equal(t, "secrets.tar", transfers[0].Payload["filename"])
}

func TestSplitIPv4CommaSeparates(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 21}
	host, err := splitIPv4(addr)
	require.NoError(t, err)
	assert.Equal(t, "10,0,0,5", host)
}
