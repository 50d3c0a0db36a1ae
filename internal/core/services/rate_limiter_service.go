package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

// Config agrega os escopos utilizados pelo serviço de rate limiting.
type Config struct {
	Scopes []domain.RateLimitRule
	// Fallback é o contador local usado quando o store compartilhado falha.
	// Cada instância aplica o próprio limite nesse modo.
	Fallback ports.CounterStore
	Audit    ports.AuditLog
}

// DefaultScopes retorna os escopos padrão da aplicação.
func DefaultScopes() []domain.RateLimitRule {
	return []domain.RateLimitRule{
		{Scope: "global", Requests: 100, Window: 15 * time.Minute, SkipLocalhost: true},
		{Scope: "auth", Requests: 5, Window: 15 * time.Minute, SkipSuccessfulRequests: true},
		{Scope: "analytics", Requests: 30, Window: time.Minute},
		{Scope: "admin", Requests: 100, Window: 15 * time.Minute},
		{Scope: "public", Requests: 60, Window: time.Minute},
		{Scope: "webhook", Requests: 100, Window: time.Minute},
		{Scope: "refresh", Requests: 10, Window: 15 * time.Minute},
		{Scope: "user", Window: time.Minute, Dynamic: true},
	}
}

// RateLimiterService implementa janelas fixas por escopo e identidade.
type RateLimiterService struct {
	storage  ports.CounterStore
	fallback ports.CounterStore
	audit    ports.AuditLog
	limits   *LimitResolver
	scopes   map[string]domain.RateLimitRule
	order    []string
	logger   *zap.Logger
	nowFn    func() time.Time
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(storage ports.CounterStore, limits *LimitResolver, cfg Config, logger *zap.Logger) (*RateLimiterService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("at least one rate limit scope is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RateLimiterService{
		storage:  storage,
		fallback: cfg.Fallback,
		audit:    cfg.Audit,
		limits:   limits,
		scopes:   make(map[string]domain.RateLimitRule, len(cfg.Scopes)),
		logger:   logger,
		nowFn:    time.Now,
	}
	for _, rule := range cfg.Scopes {
		rule.Scope = strings.TrimSpace(rule.Scope)
		if rule.Scope == "" {
			return nil, fmt.Errorf("scope name is required")
		}
		if rule.Window <= 0 {
			return nil, fmt.Errorf("scope %s must have a positive window", rule.Scope)
		}
		if rule.Dynamic && limits == nil {
			return nil, fmt.Errorf("scope %s is dynamic but no limit resolver was given", rule.Scope)
		}
		if !rule.Dynamic && rule.Requests <= 0 {
			return nil, fmt.Errorf("scope %s must have positive requests", rule.Scope)
		}
		if _, dup := s.scopes[rule.Scope]; dup {
			return nil, fmt.Errorf("scope %s declared twice", rule.Scope)
		}
		s.scopes[rule.Scope] = rule
		s.order = append(s.order, rule.Scope)
	}
	return s, nil
}

// Allow conta a requisição no escopo e decide. O incremento fica aplicado
// mesmo quando a decisão é negar, para que insistir continue contando.
func (s *RateLimiterService) Allow(ctx context.Context, req domain.RateLimitRequest) (domain.Decision, error) {
	rule, err := s.resolveRule(ctx, req)
	if err != nil {
		return domain.Decision{}, err
	}
	identifier := req.Identity()

	if rule.SkipLocalhost && domain.IsLoopback(req.IP) {
		return domain.Decision{Allowed: true, Identifier: identifier, AppliedRule: rule}, nil
	}

	key := domain.RateLimitKey(rule.Prefix(), identifier)
	counter, degraded, err := s.increment(ctx, key, rule.Window)
	if err != nil {
		s.logger.Warn("rate limit counter unavailable, allowing request",
			zap.String("scope", rule.Scope), zap.String("identifier", identifier), zap.Error(err))
		return domain.Decision{Allowed: true, Identifier: identifier, AppliedRule: rule}, nil
	}

	decision := domain.Decision{
		Identifier:   identifier,
		AppliedRule:  rule,
		CurrentCount: counter.Value,
		ResetAfter:   counter.TTL,
		Degraded:     degraded,
	}
	if decision.ResetAfter <= 0 {
		decision.ResetAfter = rule.Window
	}
	if counter.Value > int64(rule.Requests) {
		decision.RetryAfter = decision.ResetAfter
		return decision, domain.ErrRateLimited
	}

	decision.Allowed = true
	return decision, nil
}

// Refund devolve a unidade consumida por Allow no mesmo contador que a
// contou: o local quando a decisão foi degradada, o compartilhado caso contrário.
// Usado em escopos com SkipSuccessfulRequests quando a resposta não é falha.
func (s *RateLimiterService) Refund(ctx context.Context, decision domain.Decision) error {
	rule, ok := s.scopes[decision.AppliedRule.Scope]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownScope, decision.AppliedRule.Scope)
	}
	if decision.CurrentCount == 0 {
		return nil
	}
	key := domain.RateLimitKey(rule.Prefix(), decision.Identifier)
	if decision.Degraded {
		if s.fallback == nil {
			return nil
		}
		return s.fallback.Decrement(ctx, key)
	}
	return s.storage.Decrement(ctx, key)
}

func (s *RateLimiterService) increment(ctx context.Context, key string, window time.Duration) (ports.Counter, bool, error) {
	counters, err := s.storage.Increment(ctx, ports.Increment{Key: key, TTL: window})
	if err == nil {
		return counters[0], false, nil
	}
	if s.fallback == nil {
		return ports.Counter{}, false, err
	}

	s.logger.Warn("shared counter store unavailable, counting in process-local fallback (per-instance limits)",
		zap.String("key", key), zap.Error(err))
	counters, fbErr := s.fallback.Increment(ctx, ports.Increment{Key: key, TTL: window})
	if fbErr != nil {
		return ports.Counter{}, false, errors.Join(err, fbErr)
	}
	return counters[0], true, nil
}

func (s *RateLimiterService) resolveRule(ctx context.Context, req domain.RateLimitRequest) (domain.RateLimitRule, error) {
	rule, ok := s.scopes[req.Scope]
	if !ok {
		return domain.RateLimitRule{}, fmt.Errorf("%w: %s", domain.ErrUnknownScope, req.Scope)
	}
	if rule.Dynamic {
		rule.Requests = s.limits.ResolveLimit(ctx, req.Caller)
	}
	return rule, nil
}

// Scopes devolve os escopos na ordem de configuração.
func (s *RateLimiterService) Scopes() []domain.RateLimitRule {
	out := make([]domain.RateLimitRule, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.scopes[name])
	}
	return out
}

// Usage lê os contadores de uma identidade em todos os escopos. Escopos
// dinâmicos reportam o limite de um chamador não autenticado.
func (s *RateLimiterService) Usage(ctx context.Context, identity string) ([]domain.ScopeUsage, error) {
	out := make([]domain.ScopeUsage, 0, len(s.order))
	for _, name := range s.order {
		rule, err := s.resolveRule(ctx, domain.RateLimitRequest{Scope: name})
		if err != nil {
			return nil, err
		}
		usage := domain.ScopeUsage{Scope: name, Limit: rule.Requests}
		entry, found, err := s.storage.Get(ctx, domain.RateLimitKey(rule.Prefix(), identity))
		if err != nil {
			return nil, err
		}
		if found {
			usage.Count, _ = strconv.ParseInt(entry.Value, 10, 64)
			usage.ResetInSeconds = ceilSeconds(entry.TTL)
		}
		out = append(out, usage)
	}
	return out, nil
}

// ActiveIdentities conta quantas identidades têm janela aberta por escopo.
func (s *RateLimiterService) ActiveIdentities(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(s.order))
	for _, name := range s.order {
		prefix := domain.RateLimitPrefix + s.scopes[name].Prefix() + ":"
		keys, err := s.storage.Keys(ctx, prefix)
		if err != nil {
			return nil, err
		}
		out[name] = len(keys)
	}
	return out, nil
}

// Reset zera os contadores de todos os escopos para a identidade.
func (s *RateLimiterService) Reset(ctx context.Context, identity, actor string) error {
	keys := make([]string, 0, len(s.order))
	for _, name := range s.order {
		keys = append(keys, domain.RateLimitKey(s.scopes[name].Prefix(), identity))
	}
	if err := s.storage.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("reset rate limits for %s: %w", identity, err)
	}
	if s.fallback != nil {
		_ = s.fallback.Delete(ctx, keys...)
	}
	if s.audit != nil {
		audit := newAuditRecord(s.nowFn(), domain.AuditRateLimitReset, identity, "", actor, "all scopes")
		if err := s.audit.AppendAudit(ctx, audit); err != nil {
			return fmt.Errorf("audit rate limit reset for %s: %w", identity, err)
		}
	}
	s.logger.Info("rate limits reset", zap.String("identity", identity), zap.String("actor", actor))
	return nil
}
