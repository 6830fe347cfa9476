package model

import "time"

// Session models a row in the `sessions` table. A session is the
// server-side record of one logged-in device. Only the SHA‑256 hash
// of the current refresh token is stored; the raw token is returned
// to the client exactly once and cannot be recovered from the row.
//
// At most one session per user may have a NULL revoked_at. That
// invariant is enforced by a partial unique index in the schema,
// not just by application code, so concurrent logins cannot leave
// two live sessions behind.
//
// Fields:
//  ID                – UUID primary key, also embedded in access-token claims.
//  UserID            – owner of the session.
//  RefreshTokenHash  – SHA‑256 hex digest of the current refresh token.
//  ExpiresAt         – hard expiry of the session and its refresh token.
//  RevokedAt         – when the session was revoked (null while live).
//  RevokedReason     – why it was revoked (logout, logout_all, replaced_by_new_login).
//  DeviceFingerprint – optional client-supplied device identifier.
//  IPAddress         – remote address observed at login.
//  UserAgent         – User-Agent header observed at login.
//  LastSeenAt        – bumped on refresh and on verified requests.
//  CreatedAt         – timestamp of login.
type Session struct {
	ID                string     `db:"id"`
	UserID            uint64     `db:"user_id"`
	RefreshTokenHash  string     `db:"refresh_token_hash"`
	ExpiresAt         time.Time  `db:"expires_at"`
	RevokedAt         *time.Time `db:"revoked_at"`
	RevokedReason     *string    `db:"revoked_reason"`
	DeviceFingerprint string     `db:"device_fingerprint"`
	IPAddress         string     `db:"ip_address"`
	UserAgent         string     `db:"user_agent"`
	LastSeenAt        time.Time  `db:"last_seen_at"`
	CreatedAt         time.Time  `db:"created_at"`
}

// Revocation reasons recorded on sessions.revoked_reason.
const (
	RevokeReasonLogout    = "logout"
	RevokeReasonLogoutAll = "logout_all"
	RevokeReasonReplaced  = "replaced_by_new_login"
)
