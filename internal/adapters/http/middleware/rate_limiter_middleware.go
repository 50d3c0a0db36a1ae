// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const rateLimitExceededMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"

// NewRateLimiterMiddleware aplica um escopo do limiter. Em escopos com
// SkipSuccessfulRequests a unidade é devolvida quando o handler responde
// com status abaixo de 400.
func NewRateLimiterMiddleware(limiter ports.RateLimiter, scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			req := domain.RateLimitRequest{
				Scope:  scope,
				IP:     ClientIPFromContext(r.Context()),
				Caller: CallerFromContext(r.Context()),
			}

			decision, err := limiter.Allow(r.Context(), req)
			if err != nil {
				if domain.IsRateLimitedError(err) {
					writeRateLimitHeaders(w, decision)
					writeError(w, http.StatusTooManyRequests, rateLimitExceededMessage, decision.RetryAfter)
					return
				}

				logger.Error("rate limiter failed", zap.String("scope", scope), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			writeRateLimitHeaders(w, decision)
			if !decision.AppliedRule.SkipSuccessfulRequests || decision.CurrentCount == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if status := ww.Status(); status == 0 || status < http.StatusBadRequest {
				if err := limiter.Refund(r.Context(), decision); err != nil {
					logger.Warn("rate limit refund failed", zap.String("scope", scope), zap.Error(err))
				}
			}
		})
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, decision domain.Decision) {
	if decision.AppliedRule.Requests <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.AppliedRule.Requests))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining(), 10))
	if decision.ResetAfter > 0 {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(decision.ResetAfter), 10))
	}
	if decision.Degraded {
		h.Set("X-RateLimit-Degraded", "true")
	}
}
