// Package handlers agrupa os handlers HTTP administrativos e de exemplo.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/middleware"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: message})
}

// writeServiceError traduz os erros dos serviços em status HTTP.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIP), errors.Is(err, domain.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("admin operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// actor identifica quem executou a mutação nos registros de auditoria.
func actor(r *http.Request) string {
	if caller := middleware.CallerFromContext(r.Context()); caller.Authenticated() {
		return caller.UserID
	}
	return "anonymous"
}
