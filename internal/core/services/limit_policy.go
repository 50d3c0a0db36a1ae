package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const (
	DefaultUnauthenticatedLimit = 30
	DefaultTierCacheTTL         = 5 * time.Minute
)

// LimitPolicy resolve o limite por minuto de um chamador, ou declina com ok=false.
type LimitPolicy interface {
	ResolveLimit(ctx context.Context, caller domain.Caller) (limit int, ok bool)
}

type LimitPolicyFunc func(ctx context.Context, caller domain.Caller) (int, bool)

func (f LimitPolicyFunc) ResolveLimit(ctx context.Context, caller domain.Caller) (int, bool) {
	return f(ctx, caller)
}

// LimitResolver avalia as políticas na ordem dada; a primeira que responder vence.
type LimitResolver struct {
	policies []LimitPolicy
	fallback int
}

func NewLimitResolver(fallback int, policies ...LimitPolicy) *LimitResolver {
	return &LimitResolver{policies: policies, fallback: fallback}
}

// NewDefaultLimitResolver monta a precedência papel, tier, padrão.
func NewDefaultLimitResolver(tiers *TierCache, table map[domain.Tier]domain.TierLimits) *LimitResolver {
	return NewLimitResolver(DefaultUnauthenticatedLimit,
		RoleLimitPolicy(map[domain.Role]int{
			domain.RoleAdmin:     200,
			domain.RoleModerator: 100,
		}),
		TierLimitPolicy(tiers, table),
	)
}

func (r *LimitResolver) ResolveLimit(ctx context.Context, caller domain.Caller) int {
	for _, p := range r.policies {
		if limit, ok := p.ResolveLimit(ctx, caller); ok {
			return limit
		}
	}
	return r.fallback
}

func RoleLimitPolicy(limits map[domain.Role]int) LimitPolicy {
	return LimitPolicyFunc(func(_ context.Context, caller domain.Caller) (int, bool) {
		if !caller.Authenticated() {
			return 0, false
		}
		limit, ok := limits[caller.Role]
		return limit, ok
	})
}

func TierLimitPolicy(tiers *TierCache, table map[domain.Tier]domain.TierLimits) LimitPolicy {
	return LimitPolicyFunc(func(ctx context.Context, caller domain.Caller) (int, bool) {
		if !caller.Authenticated() {
			return 0, false
		}
		limits, ok := table[tiers.Tier(ctx, caller)]
		if !ok {
			return 0, false
		}
		return limits.RequestsPerMinute, true
	})
}

// TierCache evita uma consulta ao TierSource por requisição. Valores podem
// ficar até ttl desatualizados.
type TierCache struct {
	source ports.TierSource
	ttl    time.Duration
	logger *zap.Logger
	nowFn  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedTier
}

type cachedTier struct {
	tier      domain.Tier
	expiresAt time.Time
}

func NewTierCache(source ports.TierSource, ttl time.Duration, logger *zap.Logger) *TierCache {
	if ttl <= 0 {
		ttl = DefaultTierCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierCache{
		source:  source,
		ttl:     ttl,
		logger:  logger,
		nowFn:   time.Now,
		entries: make(map[string]cachedTier),
	}
}

// Tier devolve o tier do usuário. Sem resposta da fonte, usa o tier que veio
// no contexto de autenticação e, na falta dele, FREE.
func (c *TierCache) Tier(ctx context.Context, caller domain.Caller) domain.Tier {
	if !caller.Authenticated() {
		return orFree(caller.Tier)
	}

	now := c.nowFn()
	c.mu.Lock()
	cached, ok := c.entries[caller.UserID]
	c.mu.Unlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.tier
	}

	tier := orFree(caller.Tier)
	if c.source != nil {
		found, err := c.source.UserTier(ctx, caller.UserID)
		switch {
		case err == nil:
			tier = found
		case errors.Is(err, domain.ErrNotFound):
		default:
			c.logger.Warn("tier lookup failed, using caller tier", zap.String("user_id", caller.UserID), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.entries[caller.UserID] = cachedTier{tier: tier, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return tier
}

func (c *TierCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// ErrTierReadOnly indica que a fonte de tiers configurada não aceita escrita.
var ErrTierReadOnly = errors.New("tier source is read-only")

// SetTier grava o tier na fonte e descarta a entrada em cache, para que a
// próxima requisição do usuário já use o novo limite.
func (c *TierCache) SetTier(ctx context.Context, userID string, tier domain.Tier) error {
	writer, ok := c.source.(ports.TierWriter)
	if !ok {
		return ErrTierReadOnly
	}
	if err := writer.SetUserTier(ctx, userID, tier); err != nil {
		return fmt.Errorf("set tier for %s: %w", userID, err)
	}
	c.Invalidate(userID)
	c.logger.Info("user tier updated", zap.String("user_id", userID), zap.String("tier", string(tier)))
	return nil
}

func orFree(t domain.Tier) domain.Tier {
	if t == "" {
		return domain.TierFree
	}
	return t
}
