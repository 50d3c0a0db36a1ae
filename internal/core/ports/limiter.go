package ports

import (
	"context"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

type RateLimiter interface {
	Allow(ctx context.Context, req domain.RateLimitRequest) (domain.Decision, error)
	Refund(ctx context.Context, decision domain.Decision) error
}

type IPGate interface {
	CheckAccess(ctx context.Context, ip string) (domain.AccessDecision, error)
}

type QuotaManager interface {
	CheckAndIncrement(ctx context.Context, userID string, tier domain.Tier, category domain.Category) (domain.QuotaResult, error)
}

type OutcomeObserver interface {
	ObserveResponse(ctx context.Context, outcome domain.Outcome)
}
