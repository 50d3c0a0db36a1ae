// Package sqlite guarda o estado durável de admissão (bloqueios, whitelist,
// auditoria e tiers) num arquivo SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const defaultAuditLimit = 100

type Config struct {
	Path string
	// Timeout limita cada chamada ao banco.
	Timeout time.Duration
}

type Store struct {
	db      *sql.DB
	timeout time.Duration
}

var (
	_ ports.BlockStore = (*Store)(nil)
	_ ports.TierSource = (*Store)(nil)
)

func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// Um único escritor evita SQLITE_BUSY entre conexões do mesmo processo.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, timeout: cfg.Timeout}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);`); err != nil {
		return err
	}
	var v int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= v {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS blocked_ips (
			ip TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
			`CREATE TABLE IF NOT EXISTS whitelisted_ips (
			ip TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
			`CREATE TABLE IF NOT EXISTS admission_audit (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
			`CREATE INDEX IF NOT EXISTS idx_admission_audit_ip ON admission_audit(ip);`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS user_tiers (
			user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		},
	},
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, st := range m.stmts {
		if _, err := tx.Exec(st); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.version, formatTime(time.Now())); err != nil {
		return err
	}
	return tx.Commit()
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
	return s.db.PingContext(ctx)
}

// mutate roda fn e grava audit na mesma transação.
func (s *Store) mutate(ctx context.Context, audit domain.AuditRecord, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Ban(ctx context.Context, block domain.PermanentBlock, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO blocked_ips(ip, reason, created_at) VALUES(?, ?, ?)
			ON CONFLICT(ip) DO UPDATE SET reason=excluded.reason, created_at=excluded.created_at`,
			block.IP, block.Reason, formatTime(block.CreatedAt))
		return err
	})
}

func (s *Store) Unban(ctx context.Context, ip string, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx *sql.Tx) error {
		return deleteOne(ctx, tx, `DELETE FROM blocked_ips WHERE ip=?`, ip)
	})
}

func (s *Store) Whitelist(ctx context.Context, entry domain.WhitelistEntry, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO whitelisted_ips(ip, reason, created_at) VALUES(?, ?, ?)
			ON CONFLICT(ip) DO UPDATE SET reason=excluded.reason, created_at=excluded.created_at`,
			entry.IP, entry.Reason, formatTime(entry.CreatedAt))
		return err
	})
}

func (s *Store) RemoveWhitelist(ctx context.Context, ip string, audit domain.AuditRecord) error {
	return s.mutate(ctx, audit, func(ctx context.Context, tx *sql.Tx) error {
		return deleteOne(ctx, tx, `DELETE FROM whitelisted_ips WHERE ip=?`, ip)
	})
}

func deleteOne(ctx context.Context, tx *sql.Tx, query, ip string) error {
	res, err := tx.ExecContext(ctx, query, ip)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) PermanentBlock(ctx context.Context, ip string) (domain.PermanentBlock, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		b       domain.PermanentBlock
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT ip, reason, created_at FROM blocked_ips WHERE ip=?`, ip).
		Scan(&b.IP, &b.Reason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PermanentBlock{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PermanentBlock{}, err
	}
	b.CreatedAt = parseTime(created)
	return b, nil
}

func (s *Store) WhitelistEntry(ctx context.Context, ip string) (domain.WhitelistEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		e       domain.WhitelistEntry
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT ip, reason, created_at FROM whitelisted_ips WHERE ip=?`, ip).
		Scan(&e.IP, &e.Reason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WhitelistEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WhitelistEntry{}, err
	}
	e.CreatedAt = parseTime(created)
	return e, nil
}

func (s *Store) ListPermanentBlocks(ctx context.Context) ([]domain.PermanentBlock, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT ip, reason, created_at FROM blocked_ips ORDER BY created_at DESC, ip ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PermanentBlock{}
	for rows.Next() {
		var (
			b       domain.PermanentBlock
			created string
		)
		if err := rows.Scan(&b.IP, &b.Reason, &created); err != nil {
			return nil, err
		}
		b.CreatedAt = parseTime(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT ip, reason, created_at FROM whitelisted_ips ORDER BY created_at DESC, ip ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WhitelistEntry{}
	for rows.Next() {
		var (
			e       domain.WhitelistEntry
			created string
		)
		if err := rows.Scan(&e.IP, &e.Reason, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, audit domain.AuditRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return insertAudit(ctx, s.db, audit)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, a domain.AuditRecord) error {
	_, err := db.ExecContext(ctx, `INSERT INTO admission_audit(id, action, ip, user_id, actor, details, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Action), a.IP, a.UserID, a.Actor, a.Details, formatTime(a.CreatedAt))
	return err
}

// ListAudit devolve os registros mais recentes primeiro.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, action, ip, user_id, actor, details, created_at
		FROM admission_audit ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AuditRecord{}
	for rows.Next() {
		var (
			a       domain.AuditRecord
			action  string
			created string
		)
		if err := rows.Scan(&a.ID, &action, &a.IP, &a.UserID, &a.Actor, &a.Details, &created); err != nil {
			return nil, err
		}
		a.Action = domain.AuditAction(action)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UserTier(ctx context.Context, userID string) (domain.Tier, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM user_tiers WHERE user_id=?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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

	_, err := s.db.ExecContext(ctx, `INSERT INTO user_tiers(user_id, tier, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tier=excluded.tier, updated_at=excluded.updated_at`,
		userID, string(tier), formatTime(time.Now()))
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
