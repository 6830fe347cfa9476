package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/openmetro/parcelview/internal/config"
)

func TestIPRateLimitPassThroughWithoutRedis(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 5}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	h := IPRateLimit(cfg, nil)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("limiter without redis must fail open and call the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}

func TestIPRateLimitDisabledPassThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/auth/register", nil), httptest.NewRecorder())

	called := false
	h := IPRateLimit(cfg, nil)(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("disabled limiter must call the handler")
	}
}

func TestParseBucketResult(t *testing.T) {
	cases := []struct {
		name      string
		vals      interface{}
		allowed   bool
		remaining int64
		retryMs   int64
		ok        bool
	}{
		{"allowed ints", []interface{}{int64(1), int64(4), int64(0)}, true, 4, 0, true},
		{"denied ints", []interface{}{int64(0), int64(0), int64(1500)}, false, 0, 1500, true},
		{"stringified reply", []interface{}{"1", "3", "0"}, true, 3, 0, true},
		{"wrong arity", []interface{}{int64(1)}, false, 0, 0, false},
		{"not an array", "OK", false, 0, 0, false},
	}
	for _, tc := range cases {
		allowed, remaining, retryMs, ok := parseBucketResult(tc.vals)
		if allowed != tc.allowed || remaining != tc.remaining || retryMs != tc.retryMs || ok != tc.ok {
			t.Errorf("%s: got (%v,%d,%d,%v), want (%v,%d,%d,%v)", tc.name,
				allowed, remaining, retryMs, ok,
				tc.allowed, tc.remaining, tc.retryMs, tc.ok)
		}
	}
}

func TestWriteRateLimitedShape(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil), rec)

	if err := writeRateLimited(c, 1500); err != nil {
		t.Fatalf("writeRateLimited: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	// Retry-After rounds the cool-down up to whole seconds.
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "too_many_requests" {
		t.Errorf("error = %q, want too_many_requests", body.Error)
	}
	if body.Message == "" {
		t.Error("message must be present")
	}
	if body.RetryAfter != 2 {
		t.Errorf("retry_after = %d, want 2", body.RetryAfter)
	}
}

func TestAsInt64(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int64
	}{
		{int64(5), 5},
		{int32(6), 6},
		{7, 7},
		{float64(8), 8},
		{"9", 9},
		{"junk", 0},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := asInt64(tc.in); got != tc.want {
			t.Errorf("asInt64(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
