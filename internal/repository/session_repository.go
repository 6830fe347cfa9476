package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmetro/parcelview/internal/model"
)

// SessionRepo persists sessions and enforces the token-rotation protocol.
// The one-active-session-per-user invariant is backed by a partial unique
// index (sessions_one_active_per_user); every mutation here runs inside a
// transaction so concurrent logins and refreshes serialize at the storage
// layer instead of racing in application code.
type SessionRepo struct{ db *sqlx.DB }

func NewSessionRepo(db *sqlx.DB) *SessionRepo { return &SessionRepo{db: db} }

// sessionExec is the slice of sqlx.Tx the login transaction body needs,
// split out so the statement sequence is testable without a database.
type sessionExec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// CreateReplacingActive revokes any currently active session for the user
// (reason replaced_by_new_login), inserts the new session row and stamps
// users.last_login_at, all in one transaction. The transaction's first
// statement locks the user row, which is what makes two concurrent logins
// safe: the loser waits on that lock, and once the winner commits, the
// loser's revoke statement sees the winner's now-committed session and
// revokes it before inserting its own. Without the lock both revokes would
// run against the pre-login snapshot, revoke nothing, and the second insert
// would die on the sessions_one_active_per_user index.
func (r *SessionRepo) CreateReplacingActive(ctx context.Context, s model.Session) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := createReplacingActiveTx(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func createReplacingActiveTx(ctx context.Context, tx sessionExec, s model.Session) error {
	var userID uint64
	if err := tx.GetContext(ctx, &userID,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`, s.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = NOW(), revoked_reason = $2
		WHERE user_id = $1 AND revoked_at IS NULL`,
		s.UserID, model.RevokeReasonReplaced); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at, device_fingerprint, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.ExpiresAt,
		s.DeviceFingerprint, s.IPAddress, s.UserAgent); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`,
		s.UserID); err != nil {
		return err
	}
	return nil
}

// RotateRefresh looks up the session owning oldHash with a row lock,
// requiring it unrevoked, unexpired and owned by an active user, then
// swaps in newHash and bumps last_seen_at. The row lock is what prevents
// two concurrent refresh calls presenting the same stale token from both
// succeeding: the second locker re-reads a row whose hash no longer
// matches and falls out with ErrSessionNotFound.
func (r *SessionRepo) RotateRefresh(ctx context.Context, oldHash, newHash string) (model.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var s model.Session
	err = tx.GetContext(ctx, &s, `
		SELECT s.* FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.refresh_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > NOW()
		  AND u.is_active
		FOR UPDATE OF s`, oldHash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET refresh_token_hash = $2, last_seen_at = NOW()
		WHERE id = $1`, s.ID, newHash); err != nil {
		return model.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, err
	}
	s.RefreshTokenHash = newHash
	s.LastSeenAt = time.Now().UTC()
	return s, nil
}

// GetLive fetches a session by id and owner, requiring it unrevoked,
// unexpired and owned by an active user. Used by the auth middleware on
// every protected request; a revoked session fails here even when the
// presented access token still carries a valid signature.
func (r *SessionRepo) GetLive(ctx context.Context, sessionID string, userID uint64) (model.Session, error) {
	var s model.Session
	err := r.db.GetContext(ctx, &s, `
		SELECT s.* FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1
		  AND s.user_id = $2
		  AND s.revoked_at IS NULL
		  AND s.expires_at > NOW()
		  AND u.is_active`, sessionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

// Revoke marks a single session revoked with the given reason. Already
// revoked rows keep their original reason and timestamp.
func (r *SessionRepo) Revoke(ctx context.Context, sessionID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = NOW(), revoked_reason = $2
		WHERE id = $1 AND revoked_at IS NULL`, sessionID, reason)
	return err
}

// RevokeAllForUser revokes every currently unrevoked session for the user.
// With the partial unique index there is normally at most one, but the
// statement is idempotent and safe if history ever contains more.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = NOW(), revoked_reason = $2
		WHERE user_id = $1 AND revoked_at IS NULL`, userID, reason)
	return err
}

// TouchLastSeen bumps last_seen_at. Called off the request path; errors
// are the caller's to ignore.
func (r *SessionRepo) TouchLastSeen(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = NOW() WHERE id = $1`, sessionID)
	return err
}
