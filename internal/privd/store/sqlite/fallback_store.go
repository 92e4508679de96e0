package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/tbruckner/privd/internal/db"
	"github.com/tbruckner/privd/internal/privd/store"
)

type FallbackStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewFallbackStore(db *sql.DB, writer *dbpkg.Worker) *FallbackStore {
	return &FallbackStore{db: db, writer: writer}
}

func (s *FallbackStore) SaveFallback(ctx context.Context, rec store.FallbackRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_fallback(
  sink, record_id, event_type, user, event_at_ms, reason, detail, attempts, recorded_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.Sink, rec.RecordID, rec.EventType, rec.User,
			rec.Timestamp.UTC().UnixMilli(), rec.Reason, rec.Detail,
			rec.Attempts, rec.RecordedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("SaveFallback insert: %w", err)
		}
		return nil
	})
}
