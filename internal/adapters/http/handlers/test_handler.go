package handlers

import (
	"net/http"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/middleware"
)

// TestHandler simula um endpoint protegido: responde com o chamador e o IP
// vistos depois de toda a cadeia de admissão.
func TestHandler(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Request successful",
		"ip":      middleware.ClientIPFromContext(r.Context()),
		"userId":  caller.UserID,
	})
}
