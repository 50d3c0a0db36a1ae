package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

// IPManager é o lado administrativo do portão de IPs.
type IPManager interface {
	Status(ctx context.Context, ip string) (domain.IPStatus, error)
	Ban(ctx context.Context, ip, reason, actor string) error
	Unban(ctx context.Context, ip, actor string) error
	TempBlock(ctx context.Context, ip string, duration time.Duration, reason, actor string) error
	RemoveTempBlock(ctx context.Context, ip, actor string) error
	Whitelist(ctx context.Context, ip, reason, actor string) error
	RemoveWhitelist(ctx context.Context, ip, actor string) error
	ListBlocked(ctx context.Context) ([]domain.PermanentBlock, error)
	ListWhitelisted(ctx context.Context) ([]domain.WhitelistEntry, error)
	ListTempBlocked(ctx context.Context) ([]domain.TempBlock, error)
	ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

type IPManagementHandler struct {
	ips    IPManager
	logger *zap.Logger
}

func NewIPManagementHandler(ips IPManager, logger *zap.Logger) *IPManagementHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPManagementHandler{ips: ips, logger: logger}
}

// Routes monta as rotas de /ip-management.
func (h *IPManagementHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/blocked", h.listBlocked)
	r.Get("/whitelisted", h.listWhitelisted)
	r.Get("/temp-blocked", h.listTempBlocked)
	r.Get("/audit", h.listAudit)
	r.Get("/check/{ip}", h.check)
	r.Post("/block", h.block)
	r.Post("/temp-block", h.tempBlock)
	r.Delete("/unblock/{ip}", h.unblock)
	r.Delete("/temp-unblock/{ip}", h.tempUnblock)
	r.Post("/whitelist", h.whitelist)
	r.Delete("/whitelist/{ip}", h.removeWhitelist)
	return r
}

type ipRequest struct {
	IP       string `json:"ip"`
	Reason   string `json:"reason"`
	Duration int64  `json:"duration,omitempty"`
}

// decodeIPRequest lê o corpo e valida o IP antes de qualquer acesso a store.
func decodeIPRequest(w http.ResponseWriter, r *http.Request) (ipRequest, bool) {
	var req ipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return ipRequest{}, false
	}
	ip, err := domain.NormalizeIP(req.IP)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ipRequest{}, false
	}
	req.IP = ip
	return req, true
}

func ipParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip, err := domain.NormalizeIP(chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return ip, true
}

func (h *IPManagementHandler) listBlocked(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.ips.ListBlocked(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocks, "count": len(blocks)})
}

func (h *IPManagementHandler) listWhitelisted(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ips.ListWhitelisted(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"whitelisted": entries, "count": len(entries)})
}

func (h *IPManagementHandler) listTempBlocked(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.ips.ListTempBlocked(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tempBlocked": blocks, "count": len(blocks)})
}

func (h *IPManagementHandler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.ips.ListAudit(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": records, "count": len(records)})
}

func (h *IPManagementHandler) check(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	status, err := h.ips.Status(r.Context(), ip)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *IPManagementHandler) block(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}
	if err := h.ips.Ban(r.Context(), req.IP, req.Reason, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "IP blocked", "ip": req.IP})
}

func (h *IPManagementHandler) tempBlock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}
	duration, err := domain.TempBlockDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "duration must be between 60 and 86400 seconds")
		return
	}
	if err := h.ips.TempBlock(r.Context(), req.IP, duration, req.Reason, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "IP temporarily blocked",
		"ip":        req.IP,
		"expiresAt": time.Now().UTC().Add(duration),
	})
}

func (h *IPManagementHandler) unblock(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	if err := h.ips.Unban(r.Context(), ip, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "IP unblocked", "ip": ip})
}

func (h *IPManagementHandler) tempUnblock(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	if err := h.ips.RemoveTempBlock(r.Context(), ip, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "temporary block removed", "ip": ip})
}

func (h *IPManagementHandler) whitelist(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}
	if err := h.ips.Whitelist(r.Context(), req.IP, req.Reason, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "IP whitelisted", "ip": req.IP})
}

func (h *IPManagementHandler) removeWhitelist(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}
	if err := h.ips.RemoveWhitelist(r.Context(), ip, actor(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "IP removed from whitelist", "ip": ip})
}
