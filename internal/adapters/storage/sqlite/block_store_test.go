package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "admission.db"), Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func auditFor(action domain.AuditAction, ip string) domain.AuditRecord {
	return domain.AuditRecord{
		ID:        uuid.NewString(),
		Action:    action,
		IP:        ip,
		Actor:     "admin-1",
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_BanAndUnbanWriteAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Ban(ctx, domain.PermanentBlock{IP: "1.2.3.4", Reason: "scraper", CreatedAt: created}, auditFor(domain.AuditBan, "1.2.3.4")))

	block, err := s.PermanentBlock(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentBlock{IP: "1.2.3.4", Reason: "scraper", CreatedAt: created}, block)

	// Banning again updates the reason.
	require.NoError(t, s.Ban(ctx, domain.PermanentBlock{IP: "1.2.3.4", Reason: "still scraping", CreatedAt: created}, auditFor(domain.AuditBan, "1.2.3.4")))
	blocks, err := s.ListPermanentBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "still scraping", blocks[0].Reason)

	require.NoError(t, s.Unban(ctx, "1.2.3.4", auditFor(domain.AuditUnban, "1.2.3.4")))
	_, err = s.PermanentBlock(ctx, "1.2.3.4")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	audit, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, domain.AuditUnban, audit[0].Action)
	assert.Equal(t, "admin-1", audit[0].Actor)
}

func TestStore_FailedMutationLeavesNoAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Unban(ctx, "9.9.9.9", auditFor(domain.AuditUnban, "9.9.9.9"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = s.RemoveWhitelist(ctx, "9.9.9.9", auditFor(domain.AuditUnwhitelist, "9.9.9.9"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A duplicate audit id makes the audit insert fail; the ban must roll back.
	dup := auditFor(domain.AuditBan, "5.5.5.5")
	require.NoError(t, s.AppendAudit(ctx, dup))
	err = s.Ban(ctx, domain.PermanentBlock{IP: "5.5.5.5", CreatedAt: time.Now()}, dup)
	assert.Error(t, err)
	_, err = s.PermanentBlock(ctx, "5.5.5.5")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	audit, err := s.ListAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestStore_Whitelist(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Whitelist(ctx, domain.WhitelistEntry{IP: "10.0.0.1", Reason: "office", CreatedAt: time.Now()}, auditFor(domain.AuditWhitelist, "10.0.0.1")))

	entry, err := s.WhitelistEntry(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "office", entry.Reason)

	list, err := s.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RemoveWhitelist(ctx, "10.0.0.1", auditFor(domain.AuditUnwhitelist, "10.0.0.1")))
	_, err = s.WhitelistEntry(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListAuditLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendAudit(ctx, auditFor(domain.AuditTempBlock, "1.1.1.1")))
	}
	audit, err := s.ListAudit(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestStore_UserTier(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UserTier(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SetUserTier(ctx, "u1", domain.TierPro))
	tier, err := s.UserTier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, tier)

	require.NoError(t, s.SetUserTier(ctx, "u1", domain.TierEnterprise))
	tier, err = s.UserTier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnterprise, tier)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission.db")

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Ban(context.Background(), domain.PermanentBlock{IP: "1.1.1.1", CreatedAt: time.Now()}, auditFor(domain.AuditBan, "1.1.1.1")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.PermanentBlock(context.Background(), "1.1.1.1")
	assert.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))

	_, err = Open(Config{})
	assert.Error(t, err)
}
