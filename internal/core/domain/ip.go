package domain

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	MinTempBlockDuration = 60 * time.Second
	MaxTempBlockDuration = 86400 * time.Second
)

// NormalizeIP valida e devolve a forma canônica do endereço.
func NormalizeIP(raw string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, raw)
	}
	return ip.String(), nil
}

func IsLoopback(raw string) bool {
	ip := net.ParseIP(strings.TrimSpace(raw))
	return ip != nil && ip.IsLoopback()
}

// TempBlockDuration converte segundos em duração, checando os limites
// antes da multiplicação para que valores enormes não transbordem.
func TempBlockDuration(seconds int64) (time.Duration, error) {
	if seconds < int64(MinTempBlockDuration/time.Second) || seconds > int64(MaxTempBlockDuration/time.Second) {
		return 0, fmt.Errorf("%w: %ds", ErrInvalidDuration, seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}
