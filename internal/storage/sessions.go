package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

// SaveSession upserts s. Called once on accept() and again on
// end_session() to persist the end timestamp.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	metadata, err := encodeJSON(sess.Metadata)
	if err != nil {
		return apperrors.NewStorageError("save_session: encode metadata", err)
	}
	err = s.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sessions (id, service, src_ip, src_port, dst_port, started_at, ended_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				ended_at = excluded.ended_at,
				metadata = excluded.metadata
		`, sess.ID, sess.Service, sess.SrcIP, sess.SrcPort, sess.DstPort, sess.StartedAt, sess.EndedAt, metadata)
		return err
	})
	if err != nil {
		return apperrors.NewStorageError("save_session", err)
	}
	return nil
}

// GetSessionsFilter narrows GetSessions results.
type GetSessionsFilter struct {
	Limit   int
	Offset  int
	Service string
	SrcIP   string
}

// GetSessions returns sessions ordered by most recently started first.
func (s *Store) GetSessions(ctx context.Context, f GetSessionsFilter) ([]*model.Session, error) {
	query := `SELECT id, service, src_ip, src_port, dst_port, started_at, ended_at, metadata FROM sessions WHERE 1=1`
	var args []any
	if f.Service != "" {
		query += ` AND service = ?`
		args = append(args, f.Service)
	}
	if f.SrcIP != "" {
		query += ` AND src_ip = ?`
		args = append(args, f.SrcIP)
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("get_sessions", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, metadata, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("get_sessions: scan", err)
		}
		sess.Metadata = decodeJSON(metadata)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_sessions: iterate", err)
	}
	return out, nil
}

// GetSession fetches a single session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, src_ip, src_port, dst_port, started_at, ended_at, metadata
		FROM sessions WHERE id = ?
	`, id)
	sess, metadata, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get_session", err)
	}
	sess.Metadata = decodeJSON(metadata)
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, string, error) {
	var sess model.Session
	var metadata string
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.Service, &sess.SrcIP, &sess.SrcPort, &sess.DstPort,
		&sess.StartedAt, &endedAt, &metadata)
	if err != nil {
		return nil, "", err
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, metadata, nil
}
