package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/memory"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

func newTestGate(t *testing.T, clk *clock) (*IPGateService, *memory.Storage, *fakeBlockStore) {
	t.Helper()
	counters := memory.New(memory.WithClock(clk.Now))
	blocks := newFakeBlockStore()
	gate, err := NewIPGateService(counters, blocks, nil)
	require.NoError(t, err)
	gate.nowFn = clk.Now
	return gate, counters, blocks
}

func TestIPGate_AllowsUnknownAndEmptyIP(t *testing.T) {
	gate, _, _ := newTestGate(t, newClock())

	for _, ip := range []string{"", "203.0.113.1"} {
		decision, err := gate.CheckAccess(context.Background(), ip)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "ip %q", ip)
	}
}

func TestIPGate_WhitelistWinsOverBlocks(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newTestGate(t, newClock())

	require.NoError(t, gate.Ban(ctx, "1.2.3.4", "scraper", "admin-1"))
	require.NoError(t, gate.TempBlock(ctx, "1.2.3.4", time.Hour, "manual", "admin-1"))
	require.NoError(t, gate.Whitelist(ctx, "1.2.3.4", "office", "admin-1"))

	decision, err := gate.CheckAccess(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	status, err := gate.Status(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, domain.StateWhitelisted, status.Status)
	assert.True(t, status.Blocked)
	assert.True(t, status.TempBlocked)
}

func TestIPGate_TempBlockExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	gate, _, blocks := newTestGate(t, clk)

	require.NoError(t, gate.TempBlock(ctx, "5.6.7.8", 60*time.Second, "cool down", "admin-1"))

	clk.Advance(59 * time.Second)
	decision, err := gate.CheckAccess(ctx, "5.6.7.8")
	assert.True(t, domain.IsIPBlockedError(err))
	assert.False(t, decision.Allowed)
	assert.Equal(t, 403, decision.HTTPStatus)
	assert.Equal(t, "IP address temporarily blocked", decision.Reason)
	assert.Equal(t, time.Second, decision.RetryAfter)

	clk.Advance(2 * time.Second)
	decision, err = gate.CheckAccess(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	assert.Equal(t, []domain.AuditAction{domain.AuditTempBlock}, blocks.actions())
}

func TestIPGate_PermanentBlockCarriesReason(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newTestGate(t, newClock())

	require.NoError(t, gate.Ban(ctx, "9.9.9.9", "credential stuffing", "admin-1"))

	decision, err := gate.CheckAccess(ctx, "9.9.9.9")
	assert.ErrorIs(t, err, domain.ErrIPBlocked)
	assert.Equal(t, "credential stuffing", decision.Reason)
	assert.Zero(t, decision.RetryAfter)

	require.NoError(t, gate.Unban(ctx, "9.9.9.9", "admin-1"))
	decision, err = gate.CheckAccess(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestIPGate_FailsOpenWhenStoresAreDown(t *testing.T) {
	blocks := newFakeBlockStore()
	blocks.failWith = errStoreDown
	gate, err := NewIPGateService(brokenStore{}, blocks, nil)
	require.NoError(t, err)

	decision, err := gate.CheckAccess(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestIPGate_MutationFailureIsReturnedWithoutAudit(t *testing.T) {
	ctx := context.Background()
	gate, _, blocks := newTestGate(t, newClock())
	blocks.failWith = errStoreDown

	err := gate.Ban(ctx, "1.2.3.4", "x", "admin-1")
	assert.ErrorIs(t, err, errStoreDown)

	blocks.failWith = nil
	assert.Empty(t, blocks.actions())
}

func TestIPGate_RejectsInvalidIP(t *testing.T) {
	ctx := context.Background()
	gate, _, blocks := newTestGate(t, newClock())

	assert.ErrorIs(t, gate.Ban(ctx, "not-an-ip", "", "admin-1"), domain.ErrInvalidIP)
	assert.ErrorIs(t, gate.TempBlock(ctx, "300.1.1.1", time.Hour, "", "admin-1"), domain.ErrInvalidIP)
	assert.ErrorIs(t, gate.Whitelist(ctx, "", "", "admin-1"), domain.ErrInvalidIP)
	_, err := gate.Status(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidIP)
	assert.Empty(t, blocks.actions())
}

func TestIPGate_RemovingAbsentEntriesIsNotFound(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newTestGate(t, newClock())

	assert.ErrorIs(t, gate.Unban(ctx, "1.2.3.4", "admin-1"), domain.ErrNotFound)
	assert.ErrorIs(t, gate.RemoveWhitelist(ctx, "1.2.3.4", "admin-1"), domain.ErrNotFound)
	assert.ErrorIs(t, gate.RemoveTempBlock(ctx, "1.2.3.4", "admin-1"), domain.ErrNotFound)
}

func TestIPGate_StatusAndListings(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	gate, counters, blocks := newTestGate(t, clk)

	require.NoError(t, gate.TempBlock(ctx, "10.0.0.1", 90*time.Second, "manual", "admin-1"))
	require.NoError(t, gate.Ban(ctx, "10.0.0.2", "abuse", "admin-1"))
	require.NoError(t, counters.Set(ctx, domain.ViolationKey("10.0.0.3"), "4", time.Hour))

	status, err := gate.Status(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTempBlocked, status.Status)
	assert.EqualValues(t, 90, status.RetryAfterSeconds)

	status, err = gate.Status(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePermanentlyBlocked, status.Status)
	assert.Equal(t, "abuse", status.Reason)

	status, err = gate.Status(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNormal, status.Status)
	assert.EqualValues(t, 4, status.Violations)

	temp, err := gate.ListTempBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, temp, 1)
	assert.Equal(t, "10.0.0.1", temp[0].IP)
	assert.Equal(t, "manual", temp[0].Reason)
	assert.Equal(t, clk.Now().Add(90*time.Second), temp[0].ExpiresAt)

	blocked, err := gate.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "10.0.0.2", blocked[0].IP)

	require.NoError(t, gate.RemoveTempBlock(ctx, "10.0.0.1", "admin-1"))
	_, found := gate.TempBlockRemaining(ctx, "10.0.0.1")
	assert.False(t, found)

	audit, err := gate.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.AuditTempUnblock, audit[0].Action)
	assert.Equal(t, "admin-1", audit[0].Actor)
	assert.Len(t, blocks.actions(), 3)
}

func TestIPGate_NormalizesIPv6(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newTestGate(t, newClock())

	require.NoError(t, gate.Ban(ctx, "2001:DB8:0:0:0:0:0:1", "", "admin-1"))

	_, err := gate.CheckAccess(ctx, "2001:db8::1")
	assert.ErrorIs(t, err, domain.ErrIPBlocked)
}
