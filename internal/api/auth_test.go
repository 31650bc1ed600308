package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthMissingHeader(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	w := doRequest(srv, http.MethodGet, "/mail", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `bearer realm="example.com"` {
		t.Errorf("challenge = %q, want realm without error code", got)
	}
}

func TestAuthWrongScheme(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	r := httptest.NewRequest(http.MethodGet, "/mail", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); strings.Contains(got, "error=") {
		t.Errorf("challenge = %q, wrong scheme must not carry an error code", got)
	}
}

func TestAuthEmptyToken(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	r := httptest.NewRequest(http.MethodGet, "/mail", nil)
	r.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_request"`) {
		t.Errorf("challenge = %q, want invalid_request", got)
	}
}

func TestAuthRejectedTokens(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"wrong secret", mintToken(t, jwt.SigningMethodHS256, "other-secret", "consumer_id=1", time.Hour)},
		{"wrong algorithm", mintToken(t, jwt.SigningMethodHS384, testSecret, "consumer_id=1", time.Hour)},
		{"expired", mintToken(t, jwt.SigningMethodHS256, testSecret, "consumer_id=1", -time.Hour)},
		{"malformed subject", mintToken(t, jwt.SigningMethodHS256, testSecret, "consumer=1", time.Hour)},
		{"missing subject", mintToken(t, jwt.SigningMethodHS256, testSecret, "", time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, http.MethodGet, "/mail", "", tt.token)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_token"`) {
				t.Errorf("challenge = %q, want invalid_token", got)
			}
		})
	}
}

func TestAuthUnknownConsumer(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	token := mintToken(t, jwt.SigningMethodHS256, testSecret, "consumer_id=99", time.Hour)
	w := doRequest(srv, http.MethodGet, "/mail", "", token)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a well-formed token naming no consumer", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "" {
		t.Errorf("403 carries a challenge: %q", got)
	}
}

func TestAuthAcceptsValidToken(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	w := doRequest(srv, http.MethodGet, "/mail", "application/json", validToken(t))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}
