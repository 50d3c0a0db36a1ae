package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger é qualquer dependência com checagem de saúde.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responde 200 com todas as dependências de pé e 503 caso
// contrário. O corpo lista o estado de cada uma.
func HealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
	}
}
