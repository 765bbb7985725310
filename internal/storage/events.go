package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

// GetEventsFilter narrows GetEvents results. Zero values mean "no filter".
type GetEventsFilter struct {
	Limit     int
	Offset    int
	Service   string
	Services  []string
	Type      model.EventKind
	Types     []model.EventKind
	SrcIP     string
	Search    string
	TimeFrom  *time.Time
	TimeTo    *time.Time
	Paginated bool
}

// SaveEvent appends e, assigns its id, and fans it out to every live
// event subscriber.
func (s *Store) SaveEvent(ctx context.Context, e *model.Event) (*model.Event, error) {
	payload, err := encodeJSON(e.Payload)
	if err != nil {
		return nil, apperrors.NewStorageError("save_event: encode payload", err)
	}
	var id int64
	err = s.submitWrite(ctx, func(db *sql.DB) error {
		res, err := db.Exec(`
			INSERT INTO events (session_id, kind, service, src_ip, timestamp, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.SessionID, string(e.Kind), e.Service, e.SrcIP, e.Timestamp, payload)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, apperrors.NewStorageError("save_event", err)
	}
	saved := *e
	saved.ID = id
	s.publishEvent(&saved)
	return &saved, nil
}

// GetEventsResult is what GetEvents returns when f.Paginated is set.
type GetEventsResult struct {
	Events []*model.Event
	Total  int
}

// GetEvents returns events matching f, ordered by descending id.
func (s *Store) GetEvents(ctx context.Context, f GetEventsFilter) (*GetEventsResult, error) {
	where, args := buildEventsWhere(f)

	result := &GetEventsResult{}
	if f.Paginated {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE 1=1`+where, args...)
		if err := row.Scan(&result.Total); err != nil {
			return nil, apperrors.NewStorageError("get_events: count", err)
		}
	}

	query := `SELECT id, session_id, kind, service, src_ip, timestamp, payload FROM events WHERE 1=1` + where +
		` ORDER BY id DESC`
	queryArgs := args
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		queryArgs = append(append([]any{}, args...), f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, apperrors.NewStorageError("get_events", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, payload, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("get_events: scan", err)
		}
		ev.Payload = decodeJSON(payload)
		result.Events = append(result.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_events: iterate", err)
	}
	return result, nil
}

// GetEventsForSession returns every event for a session, ascending by id.
func (s *Store) GetEventsForSession(ctx context.Context, sessionID string) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, service, src_ip, timestamp, payload
		FROM events WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, apperrors.NewStorageError("get_events_for_session", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		ev, payload, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("get_events_for_session: scan", err)
		}
		ev.Payload = decodeJSON(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetUniqueIPs returns every distinct source IP seen across events, sorted.
func (s *Store) GetUniqueIPs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT src_ip FROM events ORDER BY src_ip ASC`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_unique_ips", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, apperrors.NewStorageError("get_unique_ips: scan", err)
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*model.Event, string, error) {
	var ev model.Event
	var kind, payload string
	err := row.Scan(&ev.ID, &ev.SessionID, &kind, &ev.Service, &ev.SrcIP, &ev.Timestamp, &payload)
	if err != nil {
		return nil, "", err
	}
	ev.Kind = model.EventKind(kind)
	return &ev, payload, nil
}

func buildEventsWhere(f GetEventsFilter) (string, []any) {
	var b strings.Builder
	var args []any

	switch {
	case f.Service != "":
		b.WriteString(" AND service = ?")
		args = append(args, f.Service)
	case len(f.Services) > 0:
		b.WriteString(" AND service IN (" + placeholders(len(f.Services)) + ")")
		for _, svc := range f.Services {
			args = append(args, svc)
		}
	}

	switch {
	case f.Type != "":
		b.WriteString(" AND kind = ?")
		args = append(args, string(f.Type))
	case len(f.Types) > 0:
		b.WriteString(" AND kind IN (" + placeholders(len(f.Types)) + ")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}

	if f.SrcIP != "" {
		b.WriteString(" AND src_ip = ?")
		args = append(args, f.SrcIP)
	}
	if f.Search != "" {
		b.WriteString(" AND payload LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.TimeFrom != nil {
		b.WriteString(" AND timestamp >= ?")
		args = append(args, *f.TimeFrom)
	}
	if f.TimeTo != nil {
		b.WriteString(" AND timestamp <= ?")
		args = append(args, *f.TimeTo)
	}
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
