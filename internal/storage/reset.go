package storage

import (
	"context"
	"database/sql"

	"github.com/syn2much/mantis/internal/apperrors"
)

// ResetDatabase truncates sessions, events, alerts, and geo_cache and
// reclaims space. Detection engine stateful counters are a separate
// in-memory concern the orchestrator clears in the same operation; see
// detection.Engine.ResetStatefulRules.
func (s *Store) ResetDatabase(ctx context.Context) error {
	err := s.submitWrite(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, table := range []string{"sessions", "events", "alerts", "geo_cache"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM sqlite_sequence WHERE name IN ('events', 'alerts')`); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		_, err = db.Exec(`VACUUM`)
		return err
	})
	if err != nil {
		return apperrors.NewStorageError("reset_database", err)
	}
	return nil
}
