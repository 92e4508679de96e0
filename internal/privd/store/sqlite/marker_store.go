package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/tbruckner/privd/internal/db"
)

type MarkerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewMarkerStore(db *sql.DB, writer *dbpkg.Worker) *MarkerStore {
	return &MarkerStore{db: db, writer: writer}
}

func (s *MarkerStore) SetLoginRevoke(ctx context.Context, user string, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO login_revoke_markers(user, set_at_ms) VALUES (?, ?)
ON CONFLICT(user) DO UPDATE SET set_at_ms = excluded.set_at_ms;
`, user, at.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("SetLoginRevoke: %w", err)
		}
		return nil
	})
}

func (s *MarkerStore) ConsumeLoginRevoke(ctx context.Context, user string) (bool, error) {
	var had bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM login_revoke_markers WHERE user = ?;`, user)
		if err != nil {
			return fmt.Errorf("ConsumeLoginRevoke: %w", err)
		}
		n, _ := res.RowsAffected()
		had = n > 0
		return nil
	})
	return had, err
}

func (s *MarkerStore) ClearLoginRevoke(ctx context.Context, user string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM login_revoke_markers WHERE user = ?;`, user); err != nil {
			return fmt.Errorf("ClearLoginRevoke: %w", err)
		}
		return nil
	})
}
