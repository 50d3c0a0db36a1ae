package middleware

import (
	"net/http"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

func NewIPGateMiddleware(gate ports.IPGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision, _ := gate.CheckAccess(r.Context(), ClientIPFromContext(r.Context()))
			if !decision.Allowed {
				status := decision.HTTPStatus
				if status == 0 {
					status = http.StatusForbidden
				}
				markAdmissionDenied(r.Context())
				writeError(w, status, decision.Reason, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
