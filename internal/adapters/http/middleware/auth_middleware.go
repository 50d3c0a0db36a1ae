package middleware

import (
	"net/http"
	"strings"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
	HeaderTier   = "X-Subscription-Tier"
)

// NewAuthContextMiddleware lê o chamador já autenticado pelo gateway a
// partir dos cabeçalhos. Sem X-User-ID o chamador é anônimo.
func NewAuthContextMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			caller := domain.Caller{
				UserID: userID,
				Role:   domain.ParseRole(r.Header.Get(HeaderRole)),
			}
			if tier, err := domain.ParseTier(r.Header.Get(HeaderTier)); err == nil {
				caller.Tier = tier
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole exige um chamador autenticado com um dos papéis dados.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromContext(r.Context())
			if !caller.Authenticated() {
				writeError(w, http.StatusUnauthorized, "authentication required", 0)
				return
			}
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient role", 0)
		})
	}
}
