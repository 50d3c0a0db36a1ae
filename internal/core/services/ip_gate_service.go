package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

const (
	tempBlockedReason = "IP address temporarily blocked"
	blockedReason     = "IP address blocked"
)

// IPGateService decide o acesso por IP e aplica as mutações administrativas
// de bloqueio e whitelist.
//
// Leituras que falham são tratadas como "não encontrado": o portão falha
// aberto. Mutações que falham voltam para quem chamou.
type IPGateService struct {
	counters ports.CounterStore
	blocks   ports.BlockStore
	logger   *zap.Logger
	nowFn    func() time.Time
}

var _ ports.IPGate = (*IPGateService)(nil)

func NewIPGateService(counters ports.CounterStore, blocks ports.BlockStore, logger *zap.Logger) (*IPGateService, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if blocks == nil {
		return nil, fmt.Errorf("block store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPGateService{
		counters: counters,
		blocks:   blocks,
		logger:   logger,
		nowFn:    time.Now,
	}, nil
}

// CheckAccess aplica a ordem whitelist, bloqueio temporário, bloqueio
// permanente. Um IP vazio passa: resolver o IP é papel da camada HTTP.
func (s *IPGateService) CheckAccess(ctx context.Context, ip string) (domain.AccessDecision, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return domain.AllowAccess(), nil
	}
	if normalized, err := domain.NormalizeIP(ip); err == nil {
		ip = normalized
	}

	if s.IsWhitelisted(ctx, ip) {
		return domain.AllowAccess(), nil
	}

	if remaining, ok := s.TempBlockRemaining(ctx, ip); ok {
		return domain.DenyAccess(tempBlockedReason, remaining), domain.ErrIPBlocked
	}

	if block, ok := s.permanentBlock(ctx, ip); ok {
		reason := block.Reason
		if reason == "" {
			reason = blockedReason
		}
		return domain.DenyAccess(reason, 0), domain.ErrIPBlocked
	}

	return domain.AllowAccess(), nil
}

func (s *IPGateService) IsWhitelisted(ctx context.Context, ip string) bool {
	_, err := s.blocks.WhitelistEntry(ctx, ip)
	if err == nil {
		return true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("whitelist lookup failed, treating as not whitelisted", zap.String("ip", ip), zap.Error(err))
	}
	return false
}

// TempBlockRemaining devolve o TTL restante do bloqueio temporário.
func (s *IPGateService) TempBlockRemaining(ctx context.Context, ip string) (time.Duration, bool) {
	entry, found, err := s.counters.Get(ctx, domain.TempBlockKey(ip))
	if err != nil {
		s.logger.Warn("temp block lookup failed, treating as not blocked", zap.String("ip", ip), zap.Error(err))
		return 0, false
	}
	if !found {
		return 0, false
	}
	return entry.TTL, true
}

func (s *IPGateService) permanentBlock(ctx context.Context, ip string) (domain.PermanentBlock, bool) {
	block, err := s.blocks.PermanentBlock(ctx, ip)
	if err == nil {
		return block, true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("permanent block lookup failed, treating as not blocked", zap.String("ip", ip), zap.Error(err))
	}
	return domain.PermanentBlock{}, false
}

func (s *IPGateService) Ban(ctx context.Context, ip, reason, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	now := s.nowFn()
	block := domain.PermanentBlock{IP: ip, Reason: reason, CreatedAt: now.UTC()}
	audit := newAuditRecord(now, domain.AuditBan, ip, "", actor, reason)
	if err := s.blocks.Ban(ctx, block, audit); err != nil {
		return fmt.Errorf("ban %s: %w", ip, err)
	}
	s.logger.Info("ip banned", zap.String("ip", ip), zap.String("reason", reason), zap.String("actor", actor))
	return nil
}

func (s *IPGateService) Unban(ctx context.Context, ip, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	audit := newAuditRecord(s.nowFn(), domain.AuditUnban, ip, "", actor, "")
	if err := s.blocks.Unban(ctx, ip, audit); err != nil {
		return fmt.Errorf("unban %s: %w", ip, err)
	}
	s.logger.Info("ip unbanned", zap.String("ip", ip), zap.String("actor", actor))
	return nil
}

// TempBlock grava blocked:{ip} com TTL igual à duração. A faixa
// [60s, 86400s] é validada por quem chama, não aqui.
func (s *IPGateService) TempBlock(ctx context.Context, ip string, duration time.Duration, reason, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	if err := s.counters.Set(ctx, domain.TempBlockKey(ip), reason, duration); err != nil {
		return fmt.Errorf("temp block %s: %w", ip, err)
	}
	details := fmt.Sprintf("%s (%ds)", reason, int64(duration/time.Second))
	audit := newAuditRecord(s.nowFn(), domain.AuditTempBlock, ip, "", actor, details)
	if err := s.blocks.AppendAudit(ctx, audit); err != nil {
		return fmt.Errorf("audit temp block %s: %w", ip, err)
	}
	s.logger.Info("ip temporarily blocked", zap.String("ip", ip), zap.Duration("duration", duration), zap.String("reason", reason), zap.String("actor", actor))
	return nil
}

func (s *IPGateService) RemoveTempBlock(ctx context.Context, ip, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	key := domain.TempBlockKey(ip)
	_, found, err := s.counters.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("remove temp block %s: %w", ip, err)
	}
	if !found {
		return fmt.Errorf("remove temp block %s: %w", ip, domain.ErrNotFound)
	}
	if err := s.counters.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove temp block %s: %w", ip, err)
	}
	audit := newAuditRecord(s.nowFn(), domain.AuditTempUnblock, ip, "", actor, "")
	if err := s.blocks.AppendAudit(ctx, audit); err != nil {
		return fmt.Errorf("audit temp unblock %s: %w", ip, err)
	}
	s.logger.Info("ip temp block removed", zap.String("ip", ip), zap.String("actor", actor))
	return nil
}

func (s *IPGateService) Whitelist(ctx context.Context, ip, reason, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	now := s.nowFn()
	entry := domain.WhitelistEntry{IP: ip, Reason: reason, CreatedAt: now.UTC()}
	audit := newAuditRecord(now, domain.AuditWhitelist, ip, "", actor, reason)
	if err := s.blocks.Whitelist(ctx, entry, audit); err != nil {
		return fmt.Errorf("whitelist %s: %w", ip, err)
	}
	s.logger.Info("ip whitelisted", zap.String("ip", ip), zap.String("reason", reason), zap.String("actor", actor))
	return nil
}

func (s *IPGateService) RemoveWhitelist(ctx context.Context, ip, actor string) error {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return err
	}
	audit := newAuditRecord(s.nowFn(), domain.AuditUnwhitelist, ip, "", actor, "")
	if err := s.blocks.RemoveWhitelist(ctx, ip, audit); err != nil {
		return fmt.Errorf("remove whitelist %s: %w", ip, err)
	}
	s.logger.Info("ip removed from whitelist", zap.String("ip", ip), zap.String("actor", actor))
	return nil
}

// Status monta a visão administrativa de um IP. O campo Status segue a
// mesma precedência de CheckAccess.
func (s *IPGateService) Status(ctx context.Context, ip string) (domain.IPStatus, error) {
	ip, err := domain.NormalizeIP(ip)
	if err != nil {
		return domain.IPStatus{}, err
	}

	status := domain.IPStatus{IP: ip, Status: domain.StateNormal}
	status.Whitelisted = s.IsWhitelisted(ctx, ip)

	if remaining, ok := s.TempBlockRemaining(ctx, ip); ok {
		status.TempBlocked = true
		status.RetryAfterSeconds = ceilSeconds(remaining)
	}

	if block, ok := s.permanentBlock(ctx, ip); ok {
		status.Blocked = true
		status.Reason = block.Reason
	}

	counts, err := s.counters.Counts(ctx, domain.ViolationKey(ip))
	if err != nil {
		s.logger.Warn("violation lookup failed", zap.String("ip", ip), zap.Error(err))
	} else {
		status.Violations = counts[0]
	}

	switch {
	case status.Whitelisted:
		status.Status = domain.StateWhitelisted
	case status.TempBlocked:
		status.Status = domain.StateTempBlocked
	case status.Blocked:
		status.Status = domain.StatePermanentlyBlocked
	}
	return status, nil
}

func (s *IPGateService) ListBlocked(ctx context.Context) ([]domain.PermanentBlock, error) {
	return s.blocks.ListPermanentBlocks(ctx)
}

func (s *IPGateService) ListWhitelisted(ctx context.Context) ([]domain.WhitelistEntry, error) {
	return s.blocks.ListWhitelist(ctx)
}

func (s *IPGateService) ListTempBlocked(ctx context.Context) ([]domain.TempBlock, error) {
	keys, err := s.counters.Keys(ctx, domain.TempBlockPrefix)
	if err != nil {
		return nil, err
	}
	now := s.nowFn().UTC()
	out := make([]domain.TempBlock, 0, len(keys))
	for _, key := range keys {
		entry, found, err := s.counters.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, domain.TempBlock{
			IP:        strings.TrimPrefix(key, domain.TempBlockPrefix),
			Reason:    entry.Value,
			ExpiresAt: now.Add(entry.TTL),
		})
	}
	return out, nil
}

func (s *IPGateService) ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return s.blocks.ListAudit(ctx, limit)
}

// ceilSeconds arredonda para cima: um Retry-After de 0 com bloqueio ativo
// faria o cliente tentar cedo demais.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
