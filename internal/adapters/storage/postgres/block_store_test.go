package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

// openTestStore needs a disposable database; the tables are truncated.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ADMISSION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADMISSION_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn, Timeout: 2 * time.Second})
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE blocked_ips, whitelisted_ips, admission_audit, user_tiers`)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func auditFor(action domain.AuditAction, ip string) domain.AuditRecord {
	return domain.AuditRecord{ID: uuid.NewString(), Action: action, IP: ip, Actor: "admin-1", CreatedAt: time.Now().UTC()}
}

func TestStore_BanUnbanAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Ban(ctx, domain.PermanentBlock{IP: "1.2.3.4", Reason: "scraper", CreatedAt: time.Now()}, auditFor(domain.AuditBan, "1.2.3.4")))
	block, err := s.PermanentBlock(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "scraper", block.Reason)

	require.NoError(t, s.Unban(ctx, "1.2.3.4", auditFor(domain.AuditUnban, "1.2.3.4")))
	assert.ErrorIs(t, s.Unban(ctx, "1.2.3.4", auditFor(domain.AuditUnban, "1.2.3.4")), domain.ErrNotFound)

	audit, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.AuditUnban, audit[0].Action)
}

func TestStore_WhitelistAndTier(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Whitelist(ctx, domain.WhitelistEntry{IP: "10.0.0.1", CreatedAt: time.Now()}, auditFor(domain.AuditWhitelist, "10.0.0.1")))
	list, err := s.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RemoveWhitelist(ctx, "10.0.0.1", auditFor(domain.AuditUnwhitelist, "10.0.0.1")))
	_, err = s.WhitelistEntry(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UserTier(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.SetUserTier(ctx, "u1", domain.TierPro))
	tier, err := s.UserTier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, tier)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
