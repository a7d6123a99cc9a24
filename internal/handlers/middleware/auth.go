package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/caroauth/internal/handlers/render"
	"github.com/nkiryanov/caroauth/internal/handlers/userctx"
	"github.com/nkiryanov/caroauth/internal/models"
)

const bearerScheme = "Bearer"

type authenticator interface {
	AuthenticateRequest(bearer string) (models.Principal, bool)
}

// Put principal to request context if request has valid access token.
// Request without it goes on as anonymous: access policy is up to downstream handlers
func Authenticate(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := a.AuthenticateRequest(BearerToken(r))
			if ok {
				r = r.WithContext(userctx.New(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Answer 401 to anonymous requests
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := userctx.FromContext(r.Context()); !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Token from 'Authorization: Bearer <token>' header, empty if absent or malformed
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}
