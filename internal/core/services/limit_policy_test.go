package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

func TestLimitResolver_FirstPolicyWins(t *testing.T) {
	resolver := NewLimitResolver(7,
		LimitPolicyFunc(func(context.Context, domain.Caller) (int, bool) { return 0, false }),
		LimitPolicyFunc(func(context.Context, domain.Caller) (int, bool) { return 42, true }),
		LimitPolicyFunc(func(context.Context, domain.Caller) (int, bool) { return 99, true }),
	)
	assert.Equal(t, 42, resolver.ResolveLimit(context.Background(), domain.Caller{}))

	assert.Equal(t, 7, NewLimitResolver(7).ResolveLimit(context.Background(), domain.Caller{}))
}

func TestLimitResolver_RoleBeatsTier(t *testing.T) {
	source := &stubTierSource{tiers: map[string]domain.Tier{"boss": domain.TierEnterprise}}
	resolver := NewDefaultLimitResolver(NewTierCache(source, time.Minute, nil), domain.DefaultTierLimits())

	ctx := context.Background()
	assert.Equal(t, 200, resolver.ResolveLimit(ctx, domain.Caller{UserID: "boss", Role: domain.RoleAdmin}))
	assert.Equal(t, 300, resolver.ResolveLimit(ctx, domain.Caller{UserID: "boss", Role: domain.RoleUser}))
	// Role alone does not apply without an authenticated user.
	assert.Equal(t, 30, resolver.ResolveLimit(ctx, domain.Caller{Role: domain.RoleAdmin}))
}

func TestTierCache_CachesForTTL(t *testing.T) {
	clk := newClock()
	source := &stubTierSource{tiers: map[string]domain.Tier{"u1": domain.TierPro}}
	cache := NewTierCache(source, 5*time.Minute, nil)
	cache.nowFn = clk.Now

	ctx := context.Background()
	caller := domain.Caller{UserID: "u1"}

	assert.Equal(t, domain.TierPro, cache.Tier(ctx, caller))
	source.tiers["u1"] = domain.TierEnterprise
	clk.Advance(4 * time.Minute)
	assert.Equal(t, domain.TierPro, cache.Tier(ctx, caller))
	assert.Equal(t, 1, source.calls)

	clk.Advance(time.Minute)
	assert.Equal(t, domain.TierEnterprise, cache.Tier(ctx, caller))
	assert.Equal(t, 2, source.calls)

	source.tiers["u1"] = domain.TierFree
	cache.Invalidate("u1")
	assert.Equal(t, domain.TierFree, cache.Tier(ctx, caller))
}

func TestTierCache_FallsBackToCallerTier(t *testing.T) {
	ctx := context.Background()

	failing := NewTierCache(&stubTierSource{err: errStoreDown}, time.Minute, nil)
	assert.Equal(t, domain.TierPro, failing.Tier(ctx, domain.Caller{UserID: "u1", Tier: domain.TierPro}))
	assert.Equal(t, domain.TierFree, failing.Tier(ctx, domain.Caller{UserID: "u2"}))

	missing := NewTierCache(&stubTierSource{}, time.Minute, nil)
	assert.Equal(t, domain.TierEnterprise, missing.Tier(ctx, domain.Caller{UserID: "u3", Tier: domain.TierEnterprise}))

	noSource := NewTierCache(nil, 0, nil)
	assert.Equal(t, domain.TierFree, noSource.Tier(ctx, domain.Caller{UserID: "u4"}))
}

func TestTierCache_SetTierInvalidates(t *testing.T) {
	ctx := context.Background()
	source := &writableTierSource{stubTierSource{tiers: map[string]domain.Tier{"u1": domain.TierFree}}}
	cache := NewTierCache(source, time.Hour, nil)

	caller := domain.Caller{UserID: "u1"}
	assert.Equal(t, domain.TierFree, cache.Tier(ctx, caller))

	assert.NoError(t, cache.SetTier(ctx, "u1", domain.TierPro))
	assert.Equal(t, domain.TierPro, cache.Tier(ctx, caller))

	source.err = errStoreDown
	assert.ErrorIs(t, cache.SetTier(ctx, "u1", domain.TierEnterprise), errStoreDown)

	readOnly := NewTierCache(&stubTierSource{}, time.Hour, nil)
	assert.ErrorIs(t, readOnly.SetTier(ctx, "u1", domain.TierPro), ErrTierReadOnly)
}
