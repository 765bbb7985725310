package storage

import (
	"context"
	"database/sql"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

// SaveAlert inserts a, assigns its id, and fans it out to every live
// alert subscriber. If a is already acknowledged (never true for
// freshly detected alerts) that flag is persisted as given.
func (s *Store) SaveAlert(ctx context.Context, a *model.Alert) (*model.Alert, error) {
	eventIDs, err := encodeIDs(a.EventIDs)
	if err != nil {
		return nil, apperrors.NewStorageError("save_alert: encode event_ids", err)
	}
	data, err := encodeJSON(a.Data)
	if err != nil {
		return nil, apperrors.NewStorageError("save_alert: encode data", err)
	}

	var id int64
	err = s.submitWrite(ctx, func(db *sql.DB) error {
		res, err := db.Exec(`
			INSERT INTO alerts (rule_name, severity, src_ip, service, message, event_ids, timestamp, acknowledged, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.Rule, string(a.Severity), a.SrcIP, a.Service, a.Message, eventIDs, a.Timestamp, a.Acknowledged, data)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, apperrors.NewStorageError("save_alert", err)
	}
	saved := *a
	saved.ID = id
	s.publishAlert(&saved)
	return &saved, nil
}

// GetAlertsFilter narrows GetAlerts results.
type GetAlertsFilter struct {
	Limit              int
	UnacknowledgedOnly bool
}

// GetAlerts returns alerts ordered by descending id.
func (s *Store) GetAlerts(ctx context.Context, f GetAlertsFilter) ([]*model.Alert, error) {
	query := `SELECT id, rule_name, severity, src_ip, service, message, event_ids, timestamp, acknowledged, data FROM alerts WHERE 1=1`
	var args []any
	if f.UnacknowledgedOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("get_alerts", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		alert, eventIDs, data, err := scanAlert(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("get_alerts: scan", err)
		}
		alert.EventIDs = decodeIDs(eventIDs)
		alert.Data = decodeJSON(data)
		out = append(out, alert)
	}
	return out, rows.Err()
}

// AcknowledgeAlert sets the ack flag on the alert with the given id.
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	err := s.submitWrite(ctx, func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return apperrors.NewStorageError("acknowledge_alert", err)
	}
	return nil
}

func scanAlert(row rowScanner) (*model.Alert, string, string, error) {
	var a model.Alert
	var severity, eventIDs, data string
	var acknowledged bool
	err := row.Scan(&a.ID, &a.Rule, &severity, &a.SrcIP, &a.Service, &a.Message,
		&eventIDs, &a.Timestamp, &acknowledged, &data)
	if err != nil {
		return nil, "", "", err
	}
	a.Severity = model.Severity(severity)
	a.Acknowledged = acknowledged
	return &a, eventIDs, data, nil
}
