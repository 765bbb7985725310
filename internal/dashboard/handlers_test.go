package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/storage"
)

// fakeFullStore implements the dashboard's Store interface over a handful
// of in-memory fields, enough to exercise one handler at a time.
type fakeFullStore struct {
	stats       *storage.Stats
	events      *storage.GetEventsResult
	sessions    []*model.Session
	alerts      []*model.Alert
	ackedID     int64
	ackErr      error
	exportRows  []map[string]any
	resetCalled bool

	eventAlertSource
}

func (f *fakeFullStore) GetStats(context.Context) (*storage.Stats, error) { return f.stats, nil }
func (f *fakeFullStore) GetEvents(context.Context, storage.GetEventsFilter) (*storage.GetEventsResult, error) {
	return f.events, nil
}
func (f *fakeFullStore) GetEventsForSession(context.Context, string) ([]*model.Event, error) {
	return nil, nil
}
func (f *fakeFullStore) GetUniqueIPs(context.Context) ([]string, error) { return nil, nil }
func (f *fakeFullStore) GetSessions(context.Context, storage.GetSessionsFilter) ([]*model.Session, error) {
	return f.sessions, nil
}
func (f *fakeFullStore) GetAlerts(context.Context, storage.GetAlertsFilter) ([]*model.Alert, error) {
	return f.alerts, nil
}
func (f *fakeFullStore) AcknowledgeAlert(_ context.Context, id int64) error {
	f.ackedID = id
	return f.ackErr
}
func (f *fakeFullStore) GetMapData(context.Context) ([]*storage.MapPoint, error) { return nil, nil }
func (f *fakeFullStore) GetAttackers(context.Context, int, int) ([]*storage.Attacker, error) {
	return nil, nil
}
func (f *fakeFullStore) ExportTable(context.Context, string) ([]map[string]any, error) {
	return f.exportRows, nil
}
func (f *fakeFullStore) ResetDatabase(context.Context) error {
	f.resetCalled = true
	return nil
}

func newTestServer(store *fakeFullStore) *Server {
	return NewServer(store, nil, nil, "")
}

func TestStatsHandlerReturnsStoreStats(t *testing.T) {
	store := &fakeFullStore{stats: &storage.Stats{TotalSessions: 3, TotalEvents: 7}}
	srv := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.TotalSessions)
	assert.Equal(t, 7, got.TotalEvents)
}

func TestAckAlertHandlerNotFound(t *testing.T) {
	store := &fakeFullStore{ackErr: apperrors.ErrNotFound}
	srv := newTestServer(store)

	req := httptest.NewRequest(http.MethodPost, "/api/alerts/5/ack", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alert not found", body["error"])
}

func TestAckAlertHandlerInvalidID(t *testing.T) {
	store := &fakeFullStore{}
	srv := newTestServer(store)

	req := httptest.NewRequest(http.MethodPost, "/api/alerts/not-a-number/ack", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportHandlerRejectsUnknownTable(t *testing.T) {
	store := &fakeFullStore{}
	srv := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/export?table=not_real", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportHandlerCSV(t *testing.T) {
	store := &fakeFullStore{exportRows: []map[string]any{{"id": "s1", "service": "ssh"}}}
	srv := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/export?table=sessions&format=csv", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "ssh")
}

func TestFirewallBlockedHandlerShape(t *testing.T) {
	srv := newTestServer(&fakeFullStore{})
	srv.blocked["203.0.113.9"] = struct{}{}

	req := httptest.NewRequest(http.MethodGet, "/api/firewall/blocked", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Blocked           []string `json:"blocked"`
		IPTablesAvailable *bool    `json:"iptables_available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"203.0.113.9"}, body.Blocked)
	require.NotNil(t, body.IPTablesAvailable, "iptables_available must always be reported")
}

func TestResetHandlerInvokesStoreAndBroadcasts(t *testing.T) {
	store := &fakeFullStore{eventAlertSource: newFakeBroadcastStore()}
	srv := newTestServer(store)

	client := &wsClient{out: make(chan []byte, 1)}
	srv.broadcaster.register(client)
	defer srv.broadcaster.unregister(client)

	req := httptest.NewRequest(http.MethodPost, "/api/database/reset", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.resetCalled)

	select {
	case payload := <-client.out:
		var msg wireMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "database_reset", msg.Kind)
	default:
		t.Fatal("expected database_reset broadcast")
	}
}
