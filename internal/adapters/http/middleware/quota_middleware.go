package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

// CategoryResolver escolhe a categoria de cota pela rota.
type CategoryResolver interface {
	ResolveCategory(path string) domain.Category
}

// TierResolver devolve o tier efetivo do chamador.
type TierResolver interface {
	Tier(ctx context.Context, caller domain.Caller) domain.Tier
}

// NewQuotaMiddleware cobra a cota diária do chamador autenticado. Chamadores
// anônimos passam direto; o limite por IP já os cobre.
func NewQuotaMiddleware(quotas ports.QuotaManager, categories CategoryResolver, tiers TierResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromContext(r.Context())
			if quotas == nil || !caller.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			tier := caller.Tier
			if tiers != nil {
				tier = tiers.Tier(r.Context(), caller)
			}
			category := domain.CategoryAPI
			if categories != nil {
				category = categories.ResolveCategory(r.URL.Path)
			}

			result, err := quotas.CheckAndIncrement(r.Context(), caller.UserID, tier, category)
			if err != nil && !errors.Is(err, domain.ErrQuotaExceeded) {
				logger.Error("quota check failed", zap.String("user_id", caller.UserID), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			h := w.Header()
			h.Set("X-Quota-Limit", strconv.FormatInt(result.Limit, 10))
			h.Set("X-Quota-Remaining", strconv.FormatInt(result.Remaining, 10))
			h.Set("X-Quota-Category", string(result.Category))

			if err != nil || !result.Allowed {
				if result.Limit == 0 {
					markAdmissionDenied(r.Context())
					writeError(w, http.StatusForbidden,
						fmt.Sprintf("%s endpoints are not available on the %s tier", result.Category, tier), 0)
					return
				}
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("daily %s quota exceeded", result.Category), 0)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
