package auth // package auth provides token creation, parsing and hashing helpers

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding for token material
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// AccessToken represents a signed JWT access token along with its expiry.
// Access tokens are short-lived and carried in the Authorization header on
// protected endpoints. The signature proves identity and session binding
// without a credential check, but the middleware still verifies the session
// row is live — a revoked session kills the token before its exp elapses.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived, single-use-per-rotation secret
// exchanged for a new access token. The Raw field is returned to the client
// exactly once; only its SHA-256 hash is persisted.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// Claims is the validated claim set extracted from an access token. The
// session ID binds the token to exactly one sessions row so revoking that
// row invalidates every outstanding token minted for it.
type Claims struct {
	UserID    uint64
	SessionID string
	Username  string
}

// ErrInvalidToken is returned by ParseAccessToken for any signature,
// expiry or claim-shape failure. Callers that need to distinguish a
// malformed token from an expired one can test errors.Is against
// jwt.ErrTokenExpired as well.
var ErrInvalidToken = errors.New("invalid access token")

// NewAccessToken builds and signs an HS256 JWT bound to a user and session.
// The claim set is {sub, sid, username, exp, iat}; sub carries the user ID
// and sid the session UUID.
func NewAccessToken(secret string, userID uint64, sessionID, username string, ttlMin int) (AccessToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":      userID,
		"sid":      sessionID,
		"username": username,
		"exp":      exp.Unix(),
		"iat":      time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies the signature and expiry of a serialized access
// token and returns its typed claims. Any parse, signature or claim-shape
// problem yields an error; an expired-but-well-formed token reports
// jwt.ErrTokenExpired so the middleware can tell the client a refresh is
// worth attempting.
func ParseAccessToken(secret, raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC; an attacker-supplied
		// alg=none or RS256 token must not reach claim extraction.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, ok := mc["sub"].(float64)
	if !ok || sub <= 0 {
		return Claims{}, ErrInvalidToken
	}
	sid, ok := mc["sid"].(string)
	if !ok || sid == "" {
		return Claims{}, ErrInvalidToken
	}
	username, _ := mc["username"].(string)
	return Claims{UserID: uint64(sub), SessionID: sid, Username: username}, nil
}

// NewRefreshToken returns a cryptographically secure random token (raw) and
// its expiration time. The ttlDays parameter controls how many days the
// refresh token — and therefore the session — remains valid.
func NewRefreshToken(ttlDays int) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw: raw,
		Exp: time.Now().UTC().Add(time.Duration(ttlDays) * 24 * time.Hour),
	}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string. Storing only the hash prevents a leaked sessions table from being
// replayed as live refresh tokens.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
