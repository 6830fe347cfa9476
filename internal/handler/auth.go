package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/openmetro/parcelview/internal/auth"
	"github.com/openmetro/parcelview/internal/config"
	"github.com/openmetro/parcelview/internal/middleware"
	"github.com/openmetro/parcelview/internal/model"
	"github.com/openmetro/parcelview/internal/repository"
	"github.com/openmetro/parcelview/internal/validate"
)

// UserStore is the slice of the user repository the auth endpoints need.
type UserStore interface {
	Create(ctx context.Context, p repository.NewUserParams, bcryptCost int) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// SessionStore is the slice of the session repository the auth endpoints need.
type SessionStore interface {
	CreateReplacingActive(ctx context.Context, s model.Session) error
	RotateRefresh(ctx context.Context, oldHash, newHash string) (model.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForUser(ctx context.Context, userID uint64, reason string) error
}

// ActivitySink records audit facts fire-and-forget.
type ActivitySink interface {
	Log(eventType string, userID *uint64, metadata map[string]any)
}

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    UserStore
	Sessions SessionStore
	Activity ActivitySink
	Log      *zap.SugaredLogger
}

func NewAuthHandler(cfg config.Config, u UserStore, s SessionStore, a ActivitySink, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Sessions: s, Activity: a, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username           string `json:"username" validate:"required,min=3,max=64"`
	Email              string `json:"email" validate:"required,email"`
	Password           string `json:"password" validate:"required,min=8,max=128"`
	PhoneNumber        string `json:"phoneNumber" validate:"required,min=7,max=32"`
	CompanyName        string `json:"companyName" validate:"max=128"`
	DisclaimerAccepted bool   `json:"disclaimerAccepted" validate:"eq=true"`
}

type loginReq struct {
	Username          string `json:"username" validate:"required"`
	Password          string `json:"password" validate:"required"`
	DeviceFingerprint string `json:"deviceFingerprint" validate:"max=256"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type userPart struct {
	ID          uint64     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	CompanyName string     `json:"companyName,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type sessionPart struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type loginResp struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	Session      sessionPart `json:"session"`
	User         userPart    `json:"user"`
}

type refreshResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func toUserPart(u model.User) userPart {
	return userPart{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		PhoneNumber: u.PhoneNumber,
		CompanyName: u.CompanyName,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// bindAndValidate binds the JSON body and runs schema validation,
// responding 400 with field-level detail on failure. Returns false when the
// request has already been answered.
func bindAndValidate(c echo.Context, req any) bool {
	if err := c.Bind(req); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		return false
	}
	if err := c.Validate(req); err != nil {
		var fe validate.FieldErrors
		if errors.As(err, &fe) {
			_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fe})
		} else {
			_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed"})
		}
		return false
	}
	return true
}

// Register creates a user with a hashed password and records the
// terms-acceptance fact. Duplicate username or email yields 409.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if !bindAndValidate(c, &req) {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Create(ctx, repository.NewUserParams{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		CompanyName: req.CompanyName,
	}, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username or email already exists"})
		}
		h.Log.Errorw("register: create user failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Activity.Log(model.EventUserRegistered, &u.ID, map[string]any{
		"username":            u.Username,
		"disclaimer_accepted": true,
	})
	return c.JSON(http.StatusCreated, echo.Map{"user": toUserPart(u)})
}

// Login verifies credentials and, inside one transaction at the store,
// replaces any existing active session with a fresh one. Unknown user and
// bad password produce the identical 401 so usernames cannot be enumerated.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if !bindAndValidate(c, &req) {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.Log.Errorw("login: user lookup failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !auth.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if !u.IsActive {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is inactive"})
	}

	refresh, err := auth.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		h.Log.Errorw("login: issue refresh failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	s := model.Session{
		ID:                uuid.NewString(),
		UserID:            u.ID,
		RefreshTokenHash:  auth.HashRefreshRaw(refresh.Raw),
		ExpiresAt:         refresh.Exp,
		DeviceFingerprint: strings.TrimSpace(req.DeviceFingerprint),
		IPAddress:         c.RealIP(),
		UserAgent:         c.Request().UserAgent(),
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Sessions.CreateReplacingActive(ctx, s); err != nil {
		h.Log.Errorw("login: create session failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	access, err := auth.NewAccessToken(h.Cfg.JWTSecret, u.ID, s.ID, u.Username, h.Cfg.AccessTTLMin)
	if err != nil {
		h.Log.Errorw("login: issue access failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Activity.Log(model.EventUserLogin, &u.ID, map[string]any{
		"session_id": s.ID,
		"ip":         s.IPAddress,
	})
	return c.JSON(http.StatusOK, loginResp{
		AccessToken:  access.Token,
		RefreshToken: refresh.Raw, // raw shown once; only the hash is stored
		Session:      sessionPart{ID: s.ID, ExpiresAt: s.ExpiresAt, CreatedAt: s.CreatedAt},
		User:         toUserPart(u),
	})
}

// Refresh rotates the presented refresh token. Rotation is single-use:
// after a successful call the old token is permanently dead, and replaying
// it yields 401. The session keeps its original expiry — rotation is not a
// sliding window.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if !bindAndValidate(c, &req) {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	next, err := auth.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		h.Log.Errorw("refresh: issue refresh failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	oldHash := auth.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))
	s, err := h.Sessions.RotateRefresh(ctx, oldHash, auth.HashRefreshRaw(next.Raw))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		h.Log.Errorw("refresh: rotation failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	u, err := h.Users.GetByID(ctx, s.UserID)
	if err != nil {
		h.Log.Errorw("refresh: load user failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	access, err := auth.NewAccessToken(h.Cfg.JWTSecret, u.ID, s.ID, u.Username, h.Cfg.AccessTTLMin)
	if err != nil {
		h.Log.Errorw("refresh: issue access failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Activity.Log(model.EventTokenRefresh, &u.ID, map[string]any{"session_id": s.ID})
	return c.JSON(http.StatusOK, refreshResp{
		AccessToken:  access.Token,
		RefreshToken: next.Raw,
	})
}

// Logout revokes the caller's session. Requires a verified bearer token;
// the session id comes from the middleware-populated context.
func (h *AuthHandler) Logout(c echo.Context) error {
	sessionID, _ := c.Get(middleware.CtxSessionID).(string)
	userID, _ := c.Get(middleware.CtxUserID).(uint64)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Sessions.Revoke(ctx, sessionID, model.RevokeReasonLogout); err != nil {
		h.Log.Errorw("logout: revoke failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.Activity.Log(model.EventUserLogout, &userID, map[string]any{"session_id": sessionID})
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every unrevoked session for the caller. Normally there
// is at most one, but the operation is idempotent and safe if history ever
// holds more.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, _ := c.Get(middleware.CtxUserID).(uint64)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Sessions.RevokeAllForUser(ctx, userID, model.RevokeReasonLogoutAll); err != nil {
		h.Log.Errorw("logout-all: revoke failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.Activity.Log(model.EventUserLogout, &userID, map[string]any{"scope": "all"})
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user's record.
func (h *AuthHandler) Me(c echo.Context) error {
	userID, _ := c.Get(middleware.CtxUserID).(uint64)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		h.Log.Errorw("me: load user failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": toUserPart(u)})
}
