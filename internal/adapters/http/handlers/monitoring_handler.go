package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

type RateLimitMonitor interface {
	Scopes() []domain.RateLimitRule
	ActiveIdentities(ctx context.Context) (map[string]int, error)
	Usage(ctx context.Context, identity string) ([]domain.ScopeUsage, error)
	Reset(ctx context.Context, identity, actor string) error
}

type ViolationTracker interface {
	Violations(ctx context.Context, ip string) (int64, error)
	ListViolations(ctx context.Context) (map[string]int64, error)
	ClearViolations(ctx context.Context, ip string) error
}

type MonitoringHandler struct {
	limits     RateLimitMonitor
	violations ViolationTracker
	logger     *zap.Logger
}

func NewMonitoringHandler(limits RateLimitMonitor, violations ViolationTracker, logger *zap.Logger) *MonitoringHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringHandler{limits: limits, violations: violations, logger: logger}
}

// Routes monta as rotas de /monitoring.
func (h *MonitoringHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/rate-limits", h.overview)
	r.Get("/rate-limits/{ip}", h.forIP)
	r.Delete("/rate-limits/{ip}", h.reset)
	return r
}

type scopeSummary struct {
	Scope            string `json:"scope"`
	Limit            int    `json:"limit"`
	WindowSeconds    int64  `json:"windowSeconds"`
	Dynamic          bool   `json:"dynamic,omitempty"`
	ActiveIdentities int    `json:"activeIdentities"`
}

func (h *MonitoringHandler) overview(w http.ResponseWriter, r *http.Request) {
	active, err := h.limits.ActiveIdentities(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	rules := h.limits.Scopes()
	scopes := make([]scopeSummary, 0, len(rules))
	for _, rule := range rules {
		scopes = append(scopes, scopeSummary{
			Scope:            rule.Scope,
			Limit:            rule.Requests,
			WindowSeconds:    int64(rule.Window.Seconds()),
			Dynamic:          rule.Dynamic,
			ActiveIdentities: active[rule.Scope],
		})
	}

	violations := map[string]int64{}
	if h.violations != nil {
		violations, err = h.violations.ListViolations(r.Context())
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scopes":     scopes,
		"violations": violations,
	})
}

func (h *MonitoringHandler) forIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	usage, err := h.limits.Usage(r.Context(), ip)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var violations int64
	if h.violations != nil {
		violations, err = h.violations.Violations(r.Context(), ip)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ip":         ip,
		"scopes":     usage,
		"violations": violations,
	})
}

// reset zera os contadores de todos os escopos e as violações do IP.
func (h *MonitoringHandler) reset(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	if err := h.limits.Reset(r.Context(), ip, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if h.violations != nil {
		if err := h.violations.ClearViolations(r.Context(), ip); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "rate limits reset", "ip": ip})
}
