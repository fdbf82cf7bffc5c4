package httpx

import (
	"net/http"
	"strings"

	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// TokenVerifier validates a compact JWT and returns its claims.
type TokenVerifier interface {
	Verify(token string) (jwtx.Claims, error)
}

// RevocationChecker answers whether an access token's jti has been revoked.
// Implementations must be cheap; this runs on every authenticated request.
type RevocationChecker interface {
	IsRevoked(jti string) bool
}

// AuthnMiddleware verifies the bearer token and injects its claims into the
// request context. Revoked tokens are rejected even when the signature and
// expiry are still valid.
func AuthnMiddleware(v TokenVerifier, revocations RevocationChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			claims, err := v.Verify(raw)
			if err != nil {
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			if err := claims.ValidateExpiry(); err != nil {
				writeBearerError(w, "token expired")
				return
			}

			if revocations != nil && revocations.IsRevoked(claims.ID) {
				writeBearerError(w, "token revoked")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuth(ctx, claims)))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate",
		`Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
