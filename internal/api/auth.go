package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kaimel/archiver/internal/store"
)

type contextKey string

// consumerKey carries the authenticated consumer through the request scope.
const consumerKey contextKey = "consumer"

// subPattern is the only accepted shape of the token's sub claim.
var subPattern = regexp.MustCompile(`^consumer_id=([0-9]+)$`)

// authenticate gates every routed request behind a bearer JWT. The token
// must be HS256-signed with the server secret and carry a
// sub="consumer_id=<int>" claim naming a registered consumer. Unrouted
// paths 404 without touching this middleware.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.unauthorized(w, r, "")
			return
		}
		scheme, token, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "bearer") {
			// Wrong scheme gets the realm but no error code, same as a
			// missing header.
			s.unauthorized(w, r, "")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			s.unauthorized(w, r, "invalid_request")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(token, claims,
			func(*jwt.Token) (any, error) { return []byte(s.secret), nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			s.unauthorized(w, r, "invalid_token")
			return
		}
		m := subPattern.FindStringSubmatch(claims.Subject)
		if m == nil {
			s.unauthorized(w, r, "invalid_token")
			return
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			s.unauthorized(w, r, "invalid_token")
			return
		}

		consumer, err := s.store.ConsumerByID(r.Context(), id)
		if err != nil {
			s.logger.Error("consumer lookup failed", "consumer", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Consumer lookup failed")
			return
		}
		if consumer == nil {
			writeError(w, http.StatusForbidden, "forbidden", "Unknown consumer")
			return
		}

		ctx := context.WithValue(r.Context(), consumerKey, consumer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unauthorized writes the 401 challenge. The error parameter is omitted
// when code is empty.
func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, code string) {
	challenge := fmt.Sprintf("bearer realm=%q", r.Host)
	if code != "" {
		challenge += fmt.Sprintf(", error=%q", code)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeError(w, http.StatusUnauthorized, "auth_rejected", "Bearer authentication required")
}

// consumerFrom returns the consumer the authenticate middleware bound to
// the request.
func consumerFrom(r *http.Request) *store.Consumer {
	c, _ := r.Context().Value(consumerKey).(*store.Consumer)
	return c
}
