package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/roomora/backend/internal/models"
)

type stubAuthenticator struct {
	acc *models.Account
	err error
	// got records the token passed through so tests can assert on it.
	got string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*models.Account, error) {
	s.got = token
	return s.acc, s.err
}

// echoAccount writes 200 and proves the account landed in context.
var echoAccount = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if AccountFromCtx(r.Context()) == nil {
		http.Error(w, "no account in context", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
})

func TestAuth_ValidToken(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Tier: models.TierFree}
	stub := &stubAuthenticator{acc: acc}

	handler := Auth(stub)(echoAccount)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.got != "good-token" {
		t.Errorf("token passed to authenticator: got %q", stub.got)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	handler := Auth(&stubAuthenticator{})(echoAccount)

	cases := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "bearer no token", header: "Bearer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuth_RejectedToken(t *testing.T) {
	stub := &stubAuthenticator{err: errors.New("invalid token")}
	handler := Auth(stub)(echoAccount)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
