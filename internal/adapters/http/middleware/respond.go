package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// writeError responde no formato de erro comum às negações de admissão.
// retryAfter > 0 também vira o cabeçalho Retry-After, em segundos.
func writeError(w http.ResponseWriter, status int, message string, retryAfter time.Duration) {
	body := errorBody{Error: http.StatusText(status), Message: message}
	if retryAfter > 0 {
		body.RetryAfter = ceilSeconds(retryAfter)
		w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
