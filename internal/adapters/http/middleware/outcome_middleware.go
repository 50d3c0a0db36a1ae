package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

// NewOutcomeMiddleware informa o status final de cada requisição ao
// observador, inclusive as negadas por middlewares posteriores. Negações
// da admissão chegam com AdmissionDenied.
func NewOutcomeMiddleware(observer ports.OutcomeObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if observer == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx, mark := withAdmissionMark(r.Context())
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.ObserveResponse(r.Context(), domain.Outcome{
				IP:              ClientIPFromContext(r.Context()),
				UserID:          CallerFromContext(r.Context()).UserID,
				Path:            r.URL.Path,
				Status:          status,
				AdmissionDenied: mark.denied,
			})
		})
	}
}
