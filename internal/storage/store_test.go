package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mantis.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveEventAssignsMonotonicIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		saved, err := store.SaveEvent(ctx, &model.Event{
			SessionID: "sess-1",
			Kind:      model.EventCommand,
			Service:   "ssh",
			SrcIP:     "10.0.0.1",
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.Greater(t, saved.ID, last)
		last = saved.ID
	}
}

func TestSaveSessionUpsertsEndTimestamp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC()
	sess := &model.Session{ID: "sess-2", Service: "http", SrcIP: "10.0.0.2", StartedAt: started}
	require.NoError(t, store.SaveSession(ctx, sess))

	ended := started.Add(time.Minute)
	sess.EndedAt = &ended
	require.NoError(t, store.SaveSession(ctx, sess))

	got, err := store.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, ended, *got.EndedAt, time.Second)
}

func TestAcknowledgeAlertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	saved, err := store.SaveAlert(ctx, &model.Alert{
		Rule:      "test_rule",
		Severity:  model.SeverityHigh,
		SrcIP:     "10.0.0.3",
		Service:   "ssh",
		Message:   "test",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, store.AcknowledgeAlert(ctx, saved.ID))
	require.NoError(t, store.AcknowledgeAlert(ctx, saved.ID))

	alerts, err := store.GetAlerts(ctx, GetAlertsFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Acknowledged)
}

func TestAcknowledgeAlertNotFound(t *testing.T) {
	store := openTestStore(t)
	err := store.AcknowledgeAlert(context.Background(), 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResetDatabaseClearsAllTables(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveEvent(ctx, &model.Event{SessionID: "s", Kind: model.EventCommand, Service: "ssh", SrcIP: "1.2.3.4", Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, &model.Session{ID: "s", Service: "ssh", SrcIP: "1.2.3.4", StartedAt: time.Now().UTC()}))
	_, err = store.SaveAlert(ctx, &model.Alert{Rule: "r", Severity: model.SeverityLow, SrcIP: "1.2.3.4", Service: "ssh", Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	require.NoError(t, store.ResetDatabase(ctx))

	events, err := store.GetEvents(ctx, GetEventsFilter{})
	require.NoError(t, err)
	assert.Empty(t, events.Events)

	sessions, err := store.GetSessions(ctx, GetSessionsFilter{})
	require.NoError(t, err)
	assert.Empty(t, sessions)

	alerts, err := store.GetAlerts(ctx, GetAlertsFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSubscribeEventsDropsOldestWhenFull(t *testing.T) {
	store := openTestStore(t)

	ch := store.SubscribeEvents()
	defer store.UnsubscribeEvents(ch)

	const total = subscriberCapacity + 10
	for i := 0; i < total; i++ {
		store.publishEvent(&model.Event{ID: int64(i)})
	}

	assert.LessOrEqual(t, len(ch), subscriberCapacity)

	var lastSeen int64 = -1
	drained := 0
drain:
	for {
		select {
		case e := <-ch:
			lastSeen = e.ID
			drained++
		default:
			break drain
		}
	}
	assert.Greater(t, drained, 0)
	assert.Equal(t, int64(total-1), lastSeen)
}

func TestExportTableRejectsUnknownTable(t *testing.T) {
	store := openTestStore(t)
	_, err := store.ExportTable(context.Background(), "not_a_real_table")
	assert.Error(t, err)
}

func TestExportTableRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, &model.Session{ID: "s", Service: "http", SrcIP: "1.2.3.4", StartedAt: time.Now().UTC()}))

	rows, err := store.ExportTable(ctx, "sessions")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s", rows[0]["id"])
}
