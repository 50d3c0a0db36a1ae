package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

type WebhookConfig struct {
	URL string
	// RatePerSecond limita o envio; uma rajada de alertas espera na fila em
	// vez de derrubar o receptor. Zero desliga o limite.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	// MinSeverity filtra alertas abaixo do nível. Vazio envia todos.
	MinSeverity domain.Severity
}

// WebhookSink faz POST do alerta em JSON para uma URL.
type WebhookSink struct {
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	minLevel int
}

var _ ports.AlertSink = (*WebhookSink)(nil)

func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	url := strings.TrimSpace(cfg.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("webhook url must be http(s): %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &WebhookSink{
		url:      url,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		minLevel: severityLevel(cfg.MinSeverity),
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, alert domain.Alert) error {
	if severityLevel(alert.Severity) < s.minLevel {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate wait: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func severityLevel(s domain.Severity) int {
	switch s {
	case domain.SeverityMedium:
		return 1
	case domain.SeverityHigh:
		return 2
	case domain.SeverityCritical:
		return 3
	default:
		return 0
	}
}
