package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/openmetro/parcelview/internal/auth"
	"github.com/openmetro/parcelview/internal/config"
	"github.com/openmetro/parcelview/internal/middleware"
	"github.com/openmetro/parcelview/internal/model"
	"github.com/openmetro/parcelview/internal/repository"
	"github.com/openmetro/parcelview/internal/validate"
)

// ----- in-memory stores -----

type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	byName map[string]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{nextID: 1, byName: map[string]*model.User{}}
}

func (m *memUsers) Create(_ context.Context, p repository.NewUserParams, bcryptCost int) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.Username == p.Username || u.Email == p.Email {
			return model.User{}, repository.ErrConflict
		}
	}
	hash, err := auth.HashPassword(p.Password, bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	now := time.Now().UTC()
	u := &model.User{
		ID:                   m.nextID,
		Username:             p.Username,
		Email:                p.Email,
		PasswordHash:         hash,
		Role:                 model.RoleUser,
		PhoneNumber:          p.PhoneNumber,
		CompanyName:          p.CompanyName,
		DisclaimerAcceptedAt: &now,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	m.nextID++
	m.byName[u.Username] = u
	return *u, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byName[username]; ok {
		return *u, nil
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) deactivate(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byName[username]; ok {
		u.IsActive = false
	}
}

// memSessions mimics the SQL session store's semantics closely enough for
// the protocol tests: replace-on-login, single-use rotation, liveness
// checks. It serves both the handlers and the auth middleware.
type memSessions struct {
	mu    sync.Mutex
	users *memUsers
	rows  map[string]*model.Session
}

func newMemSessions(users *memUsers) *memSessions {
	return &memSessions{users: users, rows: map[string]*model.Session{}}
}

func (m *memSessions) CreateReplacingActive(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range m.rows {
		if r.UserID == s.UserID && r.RevokedAt == nil {
			reason := model.RevokeReasonReplaced
			r.RevokedAt, r.RevokedReason = &now, &reason
		}
	}
	cp := s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSessions) RotateRefresh(_ context.Context, oldHash, newHash string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.RefreshTokenHash == oldHash && r.RevokedAt == nil && r.ExpiresAt.After(time.Now()) {
			if u, err := m.users.GetByID(context.Background(), r.UserID); err != nil || !u.IsActive {
				break
			}
			r.RefreshTokenHash = newHash
			r.LastSeenAt = time.Now().UTC()
			return *r, nil
		}
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (m *memSessions) GetLive(_ context.Context, sessionID string, userID uint64) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[sessionID]
	if !ok || r.UserID != userID || r.RevokedAt != nil || !r.ExpiresAt.After(time.Now()) {
		return model.Session{}, repository.ErrSessionNotFound
	}
	return *r, nil
}

func (m *memSessions) Revoke(_ context.Context, sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[sessionID]; ok && r.RevokedAt == nil {
		now := time.Now().UTC()
		r.RevokedAt, r.RevokedReason = &now, &reason
	}
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range m.rows {
		if r.UserID == userID && r.RevokedAt == nil {
			r.RevokedAt, r.RevokedReason = &now, &reason
		}
	}
	return nil
}

func (m *memSessions) TouchLastSeen(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[sessionID]; ok {
		r.LastSeenAt = time.Now().UTC()
	}
	return nil
}

type nopSink struct{}

func (nopSink) Log(string, *uint64, map[string]any) {}

// ----- harness -----

type authEnv struct {
	e        *echo.Echo
	users    *memUsers
	sessions *memSessions
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	cfg := config.Config{
		Env:            "test",
		JWTSecret:      "test-secret",
		AccessTTLMin:   15,
		RefreshTTLDays: 30,
		BcryptCost:     4, // keep the hash cheap in tests
	}
	users := newMemUsers()
	sessions := newMemSessions(users)
	h := NewAuthHandler(cfg, users, sessions, nopSink{}, zap.NewNop().Sugar())

	e := echo.New()
	e.Validator = validate.New()
	e.POST("/v1/auth/register", h.Register)
	e.POST("/v1/auth/login", h.Login)
	e.POST("/v1/auth/refresh", h.Refresh)
	gate := middleware.RequireSession(cfg.JWTSecret, sessions)
	e.GET("/v1/auth/me", h.Me, gate)
	e.POST("/v1/auth/logout", h.Logout, gate)
	e.POST("/v1/auth/logout-all", h.LogoutAll, gate)
	return &authEnv{e: e, users: users, sessions: sessions}
}

func (env *authEnv) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func registerBody(username string) map[string]any {
	return map[string]any{
		"username":           username,
		"email":              username + "@example.com",
		"password":           "correct horse battery",
		"phoneNumber":        "512-555-0100",
		"companyName":        "Acme Appraisals",
		"disclaimerAccepted": true,
	}
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Session      struct {
		ID string `json:"id"`
	} `json:"session"`
}

// loginAs registers once (ignoring conflicts) and logs in, returning the
// issued token pair.
func (env *authEnv) loginAs(t *testing.T, username string) tokenPair {
	t.Helper()
	env.do(t, http.MethodPost, "/v1/auth/register", registerBody(username), "")
	rec := env.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": username,
		"password": "correct horse battery",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login code = %d, body=%s", rec.Code, rec.Body.String())
	}
	var tp tokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &tp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if tp.AccessToken == "" || tp.RefreshToken == "" {
		t.Fatal("login must issue both tokens")
	}
	return tp
}

// ----- tests -----

func TestRegisterValidation(t *testing.T) {
	env := newAuthEnv(t)
	body := registerBody("carol")
	body["password"] = "short"
	body["disclaimerAccepted"] = false

	rec := env.do(t, http.MethodPost, "/v1/auth/register", body, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp.Fields["password"]; !ok {
		t.Errorf("fields = %v, want a password entry", resp.Fields)
	}
	if _, ok := resp.Fields["disclaimerAccepted"]; !ok {
		t.Errorf("fields = %v, want a disclaimerAccepted entry", resp.Fields)
	}
}

func TestRegisterConflict(t *testing.T) {
	env := newAuthEnv(t)
	if rec := env.do(t, http.MethodPost, "/v1/auth/register", registerBody("dave"), ""); rec.Code != http.StatusCreated {
		t.Fatalf("first register code = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/v1/auth/register", registerBody("dave"), ""); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register code = %d, want 409", rec.Code)
	}
}

func TestRegisterLoginMeFlow(t *testing.T) {
	env := newAuthEnv(t)
	tp := env.loginAs(t, "erin")

	rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, tp.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("me code = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.Username != "erin" {
		t.Errorf("username = %q, want erin", resp.User.Username)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Error("response must not carry any password material")
	}
}

func TestLoginUnknownUserAndBadPasswordIndistinguishable(t *testing.T) {
	env := newAuthEnv(t)
	env.do(t, http.MethodPost, "/v1/auth/register", registerBody("frank"), "")

	unknown := env.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "nobody", "password": "correct horse battery",
	}, "")
	badPass := env.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "frank", "password": "not the password",
	}, "")
	if unknown.Code != http.StatusUnauthorized || badPass.Code != http.StatusUnauthorized {
		t.Fatalf("codes = %d/%d, want 401/401", unknown.Code, badPass.Code)
	}
	if unknown.Body.String() != badPass.Body.String() {
		t.Errorf("bodies differ: %q vs %q — usernames become enumerable",
			unknown.Body.String(), badPass.Body.String())
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	env := newAuthEnv(t)
	env.do(t, http.MethodPost, "/v1/auth/register", registerBody("gina"), "")
	env.users.deactivate("gina")

	rec := env.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "gina", "password": "correct horse battery",
	}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403, body=%s", rec.Code, rec.Body.String())
	}
}

func TestSecondLoginRevokesFirstSession(t *testing.T) {
	env := newAuthEnv(t)
	deviceA := env.loginAs(t, "henry")
	deviceB := env.loginAs(t, "henry")
	if deviceA.Session.ID == deviceB.Session.ID {
		t.Fatal("second login must create a distinct session")
	}

	// Device A's token is still signature-valid and unexpired; the
	// session check is what kills it.
	rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, deviceA.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale device code = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(middleware.MsgSessionDead)) {
		t.Errorf("body = %s, want the dead-session message", rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, deviceB.AccessToken); rec.Code != http.StatusOK {
		t.Fatalf("fresh device code = %d, body=%s", rec.Code, rec.Body.String())
	}

	// A's refresh token died with its session too.
	rec = env.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refreshToken": deviceA.RefreshToken,
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale refresh code = %d, want 401", rec.Code)
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	env := newAuthEnv(t)
	tp := env.loginAs(t, "iris")

	rec := env.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refreshToken": tp.RefreshToken,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh code = %d, body=%s", rec.Code, rec.Body.String())
	}
	var rotated tokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.RefreshToken == tp.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}

	// Replaying the consumed token is a hard 401.
	rec = env.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refreshToken": tp.RefreshToken,
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay code = %d, want 401", rec.Code)
	}

	// The rotated token works, and its access token passes the gate.
	rec = env.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refreshToken": rotated.RefreshToken,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second rotation code = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, rotated.AccessToken); rec.Code != http.StatusOK {
		t.Errorf("rotated access token rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutKillsSessionAndRefresh(t *testing.T) {
	env := newAuthEnv(t)
	tp := env.loginAs(t, "jack")

	if rec := env.do(t, http.MethodPost, "/v1/auth/logout", nil, tp.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("logout code = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, tp.AccessToken); rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout code = %d, want 401", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refreshToken": tp.RefreshToken,
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout code = %d, want 401", rec.Code)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newAuthEnv(t)
	tp := env.loginAs(t, "kate")

	if rec := env.do(t, http.MethodPost, "/v1/auth/logout-all", nil, tp.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("logout-all code = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, tp.AccessToken); rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout-all code = %d, want 401", rec.Code)
	}
}
