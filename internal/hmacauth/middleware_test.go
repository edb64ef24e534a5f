package hmacauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func signedRequest(method, body, secret string, now time.Time) *http.Request {
	ts := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(method, "/api/v1/session/mint", strings.NewReader(body))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, Sign(secret, ts, []byte(body)))
	return req
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now:     func() time.Time { return now },
	}

	rec := httptest.NewRecorder()
	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, signedRequest(http.MethodPost, `{"amount":"25"}`, "secret", now))

	if !called {
		t.Fatalf("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now:     func() time.Time { return now },
	}

	req := signedRequest(http.MethodPost, `{"amount":"25"}`, "wrong-secret", now)
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now:     func() time.Time { return now },
	}

	req := signedRequest(http.MethodPost, `{}`, "secret", now.Add(-2*time.Minute))
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_SkipsReads(t *testing.T) {
	v := &Verifier{Secret: "secret"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/balances", nil)
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unsigned GET rejected with %d", rec.Code)
	}
}

func TestMiddleware_NoSecretPassesEverything(t *testing.T) {
	v := &Verifier{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/mint", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with no secret configured, got %d", rec.Code)
	}
}
