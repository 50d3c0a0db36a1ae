package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const (
	abuseActor            = "abuse-detector"
	rateLimitAbuseNote    = "auto: rate-limit abuse"
	loginFailureAbuseNote = "auto: repeated failed logins"
)

type AbuseConfig struct {
	ViolationThreshold int64
	ViolationWindow    time.Duration
	AutoBlockDuration  time.Duration

	LoginFailureThreshold int64
	LoginFailureWindow    time.Duration
	// LoginPathPrefix limita quais respostas 401 contam como login falho.
	// Vazio conta todas.
	LoginPathPrefix string

	ForbiddenThreshold int64
	ForbiddenWindow    time.Duration

	IPBlockingEnabled bool
	AlertTimeout      time.Duration
}

func DefaultAbuseConfig() AbuseConfig {
	return AbuseConfig{
		ViolationThreshold:    10,
		ViolationWindow:       time.Hour,
		AutoBlockDuration:     time.Hour,
		LoginFailureThreshold: 5,
		LoginFailureWindow:    5 * time.Minute,
		LoginPathPrefix:       "/api/auth",
		ForbiddenThreshold:    10,
		ForbiddenWindow:       15 * time.Minute,
		IPBlockingEnabled:     true,
		AlertTimeout:          5 * time.Second,
	}
}

// TempBlocker é a parte do IPGate que o detector usa para escalar.
type TempBlocker interface {
	TempBlock(ctx context.Context, ip string, duration time.Duration, reason, actor string) error
}

// AbuseDetectorService observa desfechos de requisições e eventos de
// segurança, escala IPs para bloqueio temporário e dispara alertas.
type AbuseDetectorService struct {
	storage ports.CounterStore
	blocker TempBlocker
	sinks   []ports.AlertSink
	cfg     AbuseConfig
	logger  *zap.Logger
	nowFn   func() time.Time

	inflight sync.WaitGroup
}

var _ ports.OutcomeObserver = (*AbuseDetectorService)(nil)

func NewAbuseDetectorService(storage ports.CounterStore, blocker TempBlocker, sinks []ports.AlertSink, cfg AbuseConfig, logger *zap.Logger) (*AbuseDetectorService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if blocker == nil {
		return nil, fmt.Errorf("temp blocker is required")
	}
	if cfg.ViolationThreshold <= 0 || cfg.LoginFailureThreshold <= 0 || cfg.ForbiddenThreshold <= 0 {
		return nil, fmt.Errorf("abuse thresholds must be positive")
	}
	if cfg.ViolationWindow <= 0 || cfg.LoginFailureWindow <= 0 || cfg.ForbiddenWindow <= 0 || cfg.AutoBlockDuration <= 0 {
		return nil, fmt.Errorf("abuse windows must be positive")
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbuseDetectorService{
		storage: storage,
		blocker: blocker,
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger,
		nowFn:   time.Now,
	}, nil
}

// ObserveResponse recebe o status final de uma requisição.
func (s *AbuseDetectorService) ObserveResponse(ctx context.Context, outcome domain.Outcome) {
	switch outcome.Status {
	case http.StatusTooManyRequests:
		s.recordViolation(ctx, outcome.IP)
	case http.StatusUnauthorized:
		if strings.HasPrefix(outcome.Path, s.cfg.LoginPathPrefix) {
			s.RecordSecurityEvent(ctx, domain.SecurityEvent{
				Type:    domain.EventLoginAttempt,
				IP:      outcome.IP,
				UserID:  outcome.UserID,
				Details: outcome.Path,
			})
		}
	case http.StatusForbidden:
		if outcome.UserID != "" && !outcome.AdmissionDenied {
			s.RecordSecurityEvent(ctx, domain.SecurityEvent{
				Type:    domain.EventForbiddenAccess,
				IP:      outcome.IP,
				UserID:  outcome.UserID,
				Details: outcome.Path,
			})
		}
	}
}

// recordViolation soma uma violação de rate limit; ao atingir o limiar o IP
// é bloqueado temporariamente e o contador volta a zero, para que a próxima
// violação isolada não dispare outro bloqueio.
func (s *AbuseDetectorService) recordViolation(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	key := domain.ViolationKey(ip)
	counters, err := s.storage.Increment(ctx, ports.Increment{Key: key, TTL: s.cfg.ViolationWindow})
	if err != nil {
		s.logger.Warn("violation counter unavailable", zap.String("ip", ip), zap.Error(err))
		return
	}
	count := counters[0].Value
	if count < s.cfg.ViolationThreshold {
		return
	}

	if err := s.blocker.TempBlock(ctx, ip, s.cfg.AutoBlockDuration, rateLimitAbuseNote, abuseActor); err != nil {
		s.logger.Error("auto temp block failed", zap.String("ip", ip), zap.Error(err))
	} else {
		s.logger.Warn("ip auto-blocked for rate-limit abuse", zap.String("ip", ip), zap.Int64("violations", count))
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("violation counter reset failed", zap.String("ip", ip), zap.Error(err))
	}
}

// RecordSecurityEvent aplica as regras de escalonamento de eventos de
// segurança, independentes das violações de rate limit.
func (s *AbuseDetectorService) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) {
	if ev.At.IsZero() {
		ev.At = s.nowFn()
	}

	switch {
	case ev.Type.IsAttackSignature():
		s.dispatch(ctx, domain.Alert{
			Severity:  domain.SeverityCritical,
			EventType: ev.Type,
			Title:     fmt.Sprintf("%s detected", ev.Type),
			IP:        ev.IP,
			UserID:    ev.UserID,
			Details:   ev.Details,
			At:        ev.At,
		})

	case ev.Type == domain.EventLoginAttempt && !ev.Success:
		if ev.IP == "" {
			return
		}
		count, crossed := s.countTowards(ctx, domain.LoginFailureKey(ev.IP), s.cfg.LoginFailureWindow, s.cfg.LoginFailureThreshold)
		if !crossed {
			return
		}
		s.dispatch(ctx, domain.Alert{
			Severity:  domain.SeverityHigh,
			EventType: ev.Type,
			Title:     "Repeated failed login attempts",
			IP:        ev.IP,
			UserID:    ev.UserID,
			Count:     count,
			Details:   ev.Details,
			At:        ev.At,
		})
		if s.cfg.IPBlockingEnabled {
			if err := s.blocker.TempBlock(ctx, ev.IP, s.cfg.AutoBlockDuration, loginFailureAbuseNote, abuseActor); err != nil {
				s.logger.Error("auto temp block failed", zap.String("ip", ev.IP), zap.Error(err))
			}
		}

	case ev.Type.IsAuthorizationDenial():
		if ev.UserID == "" {
			return
		}
		count, crossed := s.countTowards(ctx, domain.ForbiddenAccessKey(ev.UserID), s.cfg.ForbiddenWindow, s.cfg.ForbiddenThreshold)
		if !crossed {
			return
		}
		s.dispatch(ctx, domain.Alert{
			Severity:  domain.SeverityMedium,
			EventType: ev.Type,
			Title:     "Repeated authorization denials",
			IP:        ev.IP,
			UserID:    ev.UserID,
			Count:     count,
			Details:   ev.Details,
			At:        ev.At,
		})
	}
}

// countTowards incrementa a janela e informa se este incremento foi o que
// atingiu o limiar. Só um chamador concorrente vê o valor exato.
func (s *AbuseDetectorService) countTowards(ctx context.Context, key string, window time.Duration, threshold int64) (int64, bool) {
	counters, err := s.storage.Increment(ctx, ports.Increment{Key: key, TTL: window})
	if err != nil {
		s.logger.Warn("security event counter unavailable", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return counters[0].Value, counters[0].Value == threshold
}

// dispatch entrega o alerta a todos os destinos em paralelo, fora do
// caminho da requisição. Falhas são registradas e descartadas.
func (s *AbuseDetectorService) dispatch(ctx context.Context, alert domain.Alert) {
	alert.ID = uuid.NewString()
	s.logger.Warn("security alert",
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("event", string(alert.EventType)),
		zap.String("ip", alert.IP),
		zap.String("user_id", alert.UserID))

	base := context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		s.inflight.Add(1)
		go func(sink ports.AlertSink) {
			defer s.inflight.Done()
			sendCtx, cancel := context.WithTimeout(base, s.cfg.AlertTimeout)
			defer cancel()
			if err := sink.Send(sendCtx, alert); err != nil {
				s.logger.Error("alert delivery failed",
					zap.String("sink", sink.Name()), zap.String("alert_id", alert.ID), zap.Error(err))
			}
		}(sink)
	}
}

// Wait bloqueia até todos os alertas em andamento terminarem.
func (s *AbuseDetectorService) Wait() {
	s.inflight.Wait()
}

func (s *AbuseDetectorService) Violations(ctx context.Context, ip string) (int64, error) {
	counts, err := s.storage.Counts(ctx, domain.ViolationKey(ip))
	if err != nil {
		return 0, err
	}
	return counts[0], nil
}

// ListViolations devolve os IPs com violações na janela atual.
func (s *AbuseDetectorService) ListViolations(ctx context.Context) (map[string]int64, error) {
	keys, err := s.storage.Keys(ctx, domain.ViolationPrefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	counts, err := s.storage.Counts(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(keys))
	for i, key := range keys {
		if counts[i] > 0 {
			out[strings.TrimPrefix(key, domain.ViolationPrefix)] = counts[i]
		}
	}
	return out, nil
}

// ClearViolations apaga o contador de violações de um IP.
func (s *AbuseDetectorService) ClearViolations(ctx context.Context, ip string) error {
	return s.storage.Delete(ctx, domain.ViolationKey(ip))
}
