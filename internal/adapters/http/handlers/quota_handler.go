package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/middleware"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/services"
)

type QuotaReporter interface {
	Usage(ctx context.Context, userID string, tier domain.Tier) (domain.QuotaUsage, error)
	Reset(ctx context.Context, userID string, category domain.Category, actor string) error
}

type TierStore interface {
	Tier(ctx context.Context, caller domain.Caller) domain.Tier
	SetTier(ctx context.Context, userID string, tier domain.Tier) error
}

type QuotaHandler struct {
	quotas QuotaReporter
	tiers  TierStore
	logger *zap.Logger
}

func NewQuotaHandler(quotas QuotaReporter, tiers TierStore, logger *zap.Logger) *QuotaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaHandler{quotas: quotas, tiers: tiers, logger: logger}
}

// Usage responde GET /quota/usage para o próprio chamador.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if !caller.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	h.writeUsage(w, r, caller.UserID, h.tiers.Tier(r.Context(), caller))
}

// AdminRoutes monta as rotas de /admin para cotas e tiers.
func (h *QuotaHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/quota/{userId}", h.userUsage)
	r.Delete("/quota/{userId}", h.resetUser)
	r.Put("/users/{userId}/tier", h.setTier)
	return r
}

func (h *QuotaHandler) userUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	tier := h.tiers.Tier(r.Context(), domain.Caller{UserID: userID})
	if raw := r.URL.Query().Get("tier"); raw != "" {
		parsed, err := domain.ParseTier(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tier = parsed
	}
	h.writeUsage(w, r, userID, tier)
}

func (h *QuotaHandler) writeUsage(w http.ResponseWriter, r *http.Request, userID string, tier domain.Tier) {
	usage, err := h.quotas.Usage(r.Context(), userID, tier)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *QuotaHandler) resetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	category := domain.Category(r.URL.Query().Get("category"))
	if category != "" && category != domain.CategoryTotal && !slices.Contains(domain.Categories, category) {
		writeError(w, http.StatusBadRequest, "unknown quota category")
		return
	}
	if err := h.quotas.Reset(r.Context(), userID, category, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "quota reset", "userId": userID})
}

type tierRequest struct {
	Tier string `json:"tier"`
}

func (h *QuotaHandler) setTier(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req tierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tiers.SetTier(r.Context(), userID, tier); err != nil {
		if errors.Is(err, services.ErrTierReadOnly) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID, "tier": string(tier)})
}
