// Package postgres implementa o BlockStore e o TierSource sobre PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const defaultAuditLimit = 100

var schema = []string{
	`CREATE TABLE IF NOT EXISTS blocked_ips (
		ip TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS whitelisted_ips (
		ip TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admission_audit (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		action TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_admission_audit_ip ON admission_audit(ip)`,
	`CREATE TABLE IF NOT EXISTS user_tiers (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

type Config struct {
	DSN     string
	Timeout time.Duration
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var (
	_ ports.BlockStore = (*Store)(nil)
	_ ports.TierSource = (*Store)(nil)
)

// Open conecta, valida com ping e garante o schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	s := &Store{pool: pool, timeout: cfg.Timeout}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) mutate(ctx context.Context, audit domain.AuditRecord, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *Store) Ban(ctx context.Context, block domain.PermanentBlock, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO blocked_ips(ip, reason, created_at) VALUES($1, $2, $3)
			ON CONFLICT (ip) DO UPDATE SET reason=EXCLUDED.reason, created_at=EXCLUDED.created_at`,
			block.IP, block.Reason, block.CreatedAt.UTC())
		return err
	})
}

func (s *Store) Unban(ctx context.Context, ip string, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx pgx.Tx) error {
		return deleteOne(ctx, tx, `DELETE FROM blocked_ips WHERE ip=$1`, ip)
	})
}

func (s *Store) Whitelist(ctx context.Context, entry domain.WhitelistEntry, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO whitelisted_ips(ip, reason, created_at) VALUES($1, $2, $3)
			ON CONFLICT (ip) DO UPDATE SET reason=EXCLUDED.reason, created_at=EXCLUDED.created_at`,
			entry.IP, entry.Reason, entry.CreatedAt.UTC())
		return err
	})
}

func (s *Store) RemoveWhitelist(ctx context.Context, ip string, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx pgx.Tx) error {
		return deleteOne(ctx, tx, `DELETE FROM whitelisted_ips WHERE ip=$1`, ip)
	})
}

func deleteOne(ctx context.Context, tx pgx.Tx, query, ip string) error {
	cmd, err := tx.Exec(ctx, query, ip)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) PermanentBlock(ctx context.Context, ip string) (domain.PermanentBlock, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var b domain.PermanentBlock
	err := s.pool.QueryRow(ctx, `SELECT ip, reason, created_at FROM blocked_ips WHERE ip=$1`, ip).
		Scan(&b.IP, &b.Reason, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PermanentBlock{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PermanentBlock{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (s *Store) WhitelistEntry(ctx context.Context, ip string) (domain.WhitelistEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var e domain.WhitelistEntry
	err := s.pool.QueryRow(ctx, `SELECT ip, reason, created_at FROM whitelisted_ips WHERE ip=$1`, ip).
		Scan(&e.IP, &e.Reason, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WhitelistEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WhitelistEntry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) ListPermanentBlocks(ctx context.Context) ([]domain.PermanentBlock, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT ip, reason, created_at FROM blocked_ips ORDER BY created_at DESC, ip ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PermanentBlock, error) {
		var b domain.PermanentBlock
		err := row.Scan(&b.IP, &b.Reason, &b.CreatedAt)
		b.CreatedAt = b.CreatedAt.UTC()
		return b, err
	})
}

func (s *Store) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT ip, reason, created_at FROM whitelisted_ips ORDER BY created_at DESC, ip ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WhitelistEntry, error) {
		var e domain.WhitelistEntry
		err := row.Scan(&e.IP, &e.Reason, &e.CreatedAt)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
}

func (s *Store) AppendAudit(ctx context.Context, audit domain.AuditRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, insertAuditSQL, auditArgs(audit)...)
	return err
}

const insertAuditSQL = `INSERT INTO admission_audit(id, action, ip, user_id, actor, details, created_at)
	VALUES($1, $2, $3, $4, $5, $6, $7)`

func auditArgs(a domain.AuditRecord) []any {
	return []any{a.ID, string(a.Action), a.IP, a.UserID, a.Actor, a.Details, a.CreatedAt.UTC()}
}

func insertAudit(ctx context.Context, tx pgx.Tx, a domain.AuditRecord) error {
	_, err := tx.Exec(ctx, insertAuditSQL, auditArgs(a)...)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, action, ip, user_id, actor, details, created_at
		FROM admission_audit ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditRecord, error) {
		var (
			a      domain.AuditRecord
			action string
		)
		err := row.Scan(&a.ID, &action, &a.IP, &a.UserID, &a.Actor, &a.Details, &a.CreatedAt)
		a.Action = domain.AuditAction(action)
		a.CreatedAt = a.CreatedAt.UTC()
		return a, err
	})
}

func (s *Store) UserTier(ctx context.Context, userID string) (domain.Tier, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw string
	err := s.pool.QueryRow(ctx, `SELECT tier FROM user_tiers WHERE user_id=$1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.ParseTier(raw)
}

func (s *Store) SetUserTier(ctx context.Context, userID string, tier domain.Tier) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `INSERT INTO user_tiers(user_id, tier, updated_at) VALUES($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET tier=EXCLUDED.tier, updated_at=EXCLUDED.updated_at`,
		userID, string(tier))
	return err
}
