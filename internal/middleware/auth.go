package middleware // middleware provides reusable HTTP middleware functions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/openmetro/parcelview/internal/auth"
	"github.com/openmetro/parcelview/internal/model"
)

// SessionChecker is the slice of the session store the gate needs. The
// auth middleware takes an interface so tests can stub session liveness
// without a database.
type SessionChecker interface {
	GetLive(ctx context.Context, sessionID string, userID uint64) (model.Session, error)
	TouchLastSeen(ctx context.Context, sessionID string) error
}

// Context keys populated on successful verification.
const (
	CtxUserID    = "user_id"
	CtxSessionID = "session_id"
	CtxUsername  = "username"
)

// MsgSessionDead is the 401 message for a cryptographically valid token
// whose session has been revoked or expired. Clients key off this exact
// string (and MsgTokenExpired) to decide a refresh is worth attempting;
// every other 401 means give up and re-login.
const (
	MsgSessionDead  = "Session is no longer active"
	MsgTokenExpired = "token expired"
)

// RequireSession returns an Echo middleware that gates protected routes.
// It verifies the Bearer access token signature and expiry, extracts the
// (userID, sessionID, username) claims, and then checks the session row is
// still live — unrevoked, unexpired, owned by an active user. Revoking a
// session therefore invalidates all of its outstanding access tokens
// immediately, regardless of their exp claim.
//
// On success the identity is attached to the request context and the
// session's last_seen_at is bumped off the request path.
func RequireSession(secret string, sessions SessionChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header is "Bearer <jwt>". Distinct messages per
			// failure class let the client tell a refresh-worthy 401 from
			// a hopeless one.
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims, err := auth.ParseAccessToken(secret, raw)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": MsgTokenExpired})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			s, err := sessions.GetLive(c.Request().Context(), claims.SessionID, claims.UserID)
			if err != nil {
				// Revoked, expired, missing and inactive-user all collapse
				// into the same message so nothing leaks about which.
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": MsgSessionDead})
			}

			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxSessionID, s.ID)
			c.Set(CtxUsername, claims.Username)

			// Bump last_seen_at without holding up the request. Errors are
			// irrelevant to the caller.
			go func(id string) {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = sessions.TouchLastSeen(ctx, id)
			}(s.ID)

			return next(c)
		}
	}
}
