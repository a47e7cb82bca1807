package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"contracthub/internal/types"
)

// SessionRepository provides data access for the sessions table. Session IDs
// are stored as SHA-256 hashes of the raw credential; the raw value only
// ever lives in the client.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session record keyed by the credential hash.
func (r *SessionRepository) Create(ctx context.Context, idHash string, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id_hash, user_id, expires_at, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		idHash,
		s.UserID,
		s.ExpiresAt,
		s.LastActivityAt,
		s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByIDHash retrieves a session by the hash of its credential.
// Returns ErrCodeAuthTokenInvalid if no session exists; an unknown
// credential and a revoked one are indistinguishable to the caller.
func (r *SessionRepository) GetByIDHash(ctx context.Context, idHash string) (*types.Session, error) {
	var s types.Session
	err := r.db.QueryRow(ctx,
		`SELECT user_id, expires_at, last_activity_at, created_at
		 FROM sessions WHERE id_hash = $1`,
		idHash,
	).Scan(&s.UserID, &s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return &s, nil
}

// DeleteByIDHash removes a session. Deleting an already-deleted session is
// not an error; logout must be idempotent.
func (r *SessionRepository) DeleteByIDHash(ctx context.Context, idHash string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE id_hash = $1`,
		idHash,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}

// DeleteExpired prunes sessions past their expiry. Returns the number of
// rows removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < NOW()`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
