package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/tbruckner/privd/internal/db"
	"github.com/tbruckner/privd/internal/privd/store"
	"github.com/tbruckner/privd/internal/privd/types"
)

type GrantStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewGrantStore(db *sql.DB, writer *dbpkg.Worker) *GrantStore {
	return &GrantStore{db: db, writer: writer}
}

func (s *GrantStore) Put(ctx context.Context, g types.Grant) error {
	var expiresMs any
	if g.ExpiresAt != nil {
		expiresMs = g.ExpiresAt.UTC().UnixMilli()
	}

	var atLogin int
	if g.RevokeAtLogin {
		atLogin = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO grants(
  user, grant_id, admin_group_id, state, granted_at_ms, expires_at_ms, reason, revoke_at_login
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user) DO UPDATE SET
  grant_id = excluded.grant_id,
  admin_group_id = excluded.admin_group_id,
  state = excluded.state,
  granted_at_ms = excluded.granted_at_ms,
  expires_at_ms = excluded.expires_at_ms,
  reason = excluded.reason,
  revoke_at_login = excluded.revoke_at_login;
`,
			g.User, g.ID, g.AdminGroupID, string(g.State),
			g.GrantedAt.UTC().UnixMilli(), expiresMs, g.Reason, atLogin,
		); err != nil {
			return fmt.Errorf("Put grant: %w", err)
		}
		return nil
	})
}

func (s *GrantStore) Get(ctx context.Context, user string) (types.Grant, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user, grant_id, admin_group_id, state, granted_at_ms, expires_at_ms, reason, revoke_at_login
FROM grants WHERE user = ?;
`, user)

	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return types.Grant{}, store.ErrNotFound
	}
	if err != nil {
		return types.Grant{}, err
	}
	return g, nil
}

func (s *GrantStore) Delete(ctx context.Context, user string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE user = ?;`, user); err != nil {
			return fmt.Errorf("Delete grant: %w", err)
		}
		return nil
	})
}

func (s *GrantStore) ListActive(ctx context.Context) ([]types.Grant, []store.CorruptGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user, grant_id, admin_group_id, state, granted_at_ms, expires_at_ms, reason, revoke_at_login
FROM grants;
`)
	if err != nil {
		return nil, nil, fmt.Errorf("ListActive query: %w", err)
	}
	defer rows.Close()

	var (
		grants  []types.Grant
		corrupt []store.CorruptGrant
	)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			// A row that fails to decode poisons only its own user.
			corrupt = append(corrupt, store.CorruptGrant{User: g.User, Err: err})
			continue
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("ListActive rows: %w", err)
	}
	return grants, corrupt, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanGrant decodes one grants row. Rows written by older or tampered
// daemons may hold states or timestamps we no longer accept; those come
// back wrapped in store.ErrCorruptRecord with the user still populated so
// recovery can target the right account.
func scanGrant(r rowScanner) (types.Grant, error) {
	var (
		g         types.Grant
		state     string
		grantedMs int64
		expires   sql.NullInt64
		atLogin   int
	)
	if err := r.Scan(&g.User, &g.ID, &g.AdminGroupID, &state, &grantedMs, &expires, &g.Reason, &atLogin); err != nil {
		if err == sql.ErrNoRows {
			return types.Grant{}, err
		}
		return g, fmt.Errorf("%w: scan: %v", store.ErrCorruptRecord, err)
	}

	switch types.GrantState(state) {
	case types.StateActive, types.StateExpiringNotified, types.StateRevoking:
	default:
		return g, fmt.Errorf("%w: unexpected persisted state %q", store.ErrCorruptRecord, state)
	}
	if grantedMs <= 0 {
		return g, fmt.Errorf("%w: granted_at_ms %d", store.ErrCorruptRecord, grantedMs)
	}

	g.State = types.GrantState(state)
	g.GrantedAt = time.UnixMilli(grantedMs).UTC()
	if expires.Valid {
		t := time.UnixMilli(expires.Int64).UTC()
		g.ExpiresAt = &t
	}
	g.RevokeAtLogin = atLogin != 0
	return g, nil
}
