package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

type CategoryPrefix struct {
	Prefix   string
	Category domain.Category
}

// DefaultCategoryPrefixes mapeia prefixos de rota para categorias de cota.
// Rotas fora da lista caem em api.
func DefaultCategoryPrefixes() []CategoryPrefix {
	return []CategoryPrefix{
		{Prefix: "/api/analytics", Category: domain.CategoryAnalytics},
		{Prefix: "/api/admin", Category: domain.CategoryAdmin},
		{Prefix: "/api/public", Category: domain.CategoryPublic},
	}
}

type QuotaConfig struct {
	Tiers            map[domain.Tier]domain.TierLimits
	CategoryPrefixes []CategoryPrefix
	Audit            ports.AuditLog
}

// QuotaService contabiliza cotas por tier, categoria e total.
//
// A única via de checagem é CheckAndIncrement: incrementar e ler acontecem na
// mesma operação atômica do store, e tentativas negadas também consomem cota.
type QuotaService struct {
	storage  ports.CounterStore
	tiers    map[domain.Tier]domain.TierLimits
	prefixes []CategoryPrefix
	audit    ports.AuditLog
	logger   *zap.Logger
	nowFn    func() time.Time
}

var _ ports.QuotaManager = (*QuotaService)(nil)

func NewQuotaService(storage ports.CounterStore, cfg QuotaConfig, logger *zap.Logger) (*QuotaService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Tiers == nil {
		cfg.Tiers = domain.DefaultTierLimits()
	}
	for tier, limits := range cfg.Tiers {
		if _, ok := limits.Quotas[domain.CategoryTotal]; !ok {
			return nil, fmt.Errorf("tier %s has no total quota", tier)
		}
		for c, q := range limits.Quotas {
			if q.Requests < 0 || q.Period <= 0 {
				return nil, fmt.Errorf("tier %s category %s must have a positive period and non-negative requests", tier, c)
			}
		}
	}
	if cfg.CategoryPrefixes == nil {
		cfg.CategoryPrefixes = DefaultCategoryPrefixes()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaService{
		storage:  storage,
		tiers:    cfg.Tiers,
		prefixes: cfg.CategoryPrefixes,
		audit:    cfg.Audit,
		logger:   logger,
		nowFn:    time.Now,
	}, nil
}

// ResolveCategory escolhe a categoria pelo prefixo do caminho.
func (s *QuotaService) ResolveCategory(path string) domain.Category {
	for _, p := range s.prefixes {
		if path == p.Prefix || strings.HasPrefix(path, p.Prefix+"/") {
			return p.Category
		}
	}
	return domain.CategoryAPI
}

func (s *QuotaService) limitsFor(tier domain.Tier, category domain.Category) (domain.QuotaLimit, domain.QuotaLimit, error) {
	limits, ok := s.tiers[tier]
	if !ok {
		return domain.QuotaLimit{}, domain.QuotaLimit{}, fmt.Errorf("unknown tier %q", tier)
	}
	quota, ok := limits.Quotas[category]
	if !ok || category == domain.CategoryTotal {
		return domain.QuotaLimit{}, domain.QuotaLimit{}, fmt.Errorf("unknown quota category %q", category)
	}
	return quota, limits.Quotas[domain.CategoryTotal], nil
}

// CheckAndIncrement consome uma unidade da categoria e do total. A
// requisição passa só se os dois valores pós-incremento couberem nos limites.
func (s *QuotaService) CheckAndIncrement(ctx context.Context, userID string, tier domain.Tier, category domain.Category) (domain.QuotaResult, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.QuotaResult{}, fmt.Errorf("user id is required")
	}
	quota, total, err := s.limitsFor(tier, category)
	if err != nil {
		return domain.QuotaResult{}, err
	}

	if quota.Requests == 0 {
		return domain.QuotaResult{Allowed: false, Remaining: 0, Limit: 0, Category: category}, domain.ErrQuotaExceeded
	}

	counters, err := s.storage.Increment(ctx,
		ports.Increment{Key: domain.QuotaKey(userID, category, quota.Period), TTL: quota.Period},
		ports.Increment{Key: domain.QuotaKey(userID, domain.CategoryTotal, total.Period), TTL: total.Period},
	)
	if err != nil {
		s.logger.Warn("quota counter unavailable, allowing request",
			zap.String("user_id", userID), zap.String("category", string(category)), zap.Error(err))
		return domain.QuotaResult{
			Allowed:   true,
			Remaining: int64(quota.Requests),
			Limit:     int64(quota.Requests),
			Category:  category,
		}, nil
	}

	used, totalUsed := counters[0].Value, counters[1].Value
	remaining := min(int64(quota.Requests)-used, int64(total.Requests)-totalUsed)
	result := domain.QuotaResult{
		Allowed:   used <= int64(quota.Requests) && totalUsed <= int64(total.Requests),
		Remaining: max(remaining, 0),
		Limit:     int64(quota.Requests),
		Category:  category,
	}
	if !result.Allowed {
		return result, domain.ErrQuotaExceeded
	}
	return result, nil
}

// Usage lê todos os contadores do usuário num único multi-get.
func (s *QuotaService) Usage(ctx context.Context, userID string, tier domain.Tier) (domain.QuotaUsage, error) {
	limits, ok := s.tiers[tier]
	if !ok {
		return domain.QuotaUsage{}, fmt.Errorf("unknown tier %q", tier)
	}

	categories := append([]domain.Category{domain.CategoryTotal}, domain.Categories...)
	keys := make([]string, len(categories))
	for i, c := range categories {
		keys[i] = domain.QuotaKey(userID, c, limits.Quota(c).Period)
	}

	counts, err := s.storage.Counts(ctx, keys...)
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("read quota usage for %s: %w", userID, err)
	}

	usage := domain.QuotaUsage{
		UserID:     userID,
		Tier:       tier,
		Categories: make(map[domain.Category]domain.CategoryUsage, len(categories)),
	}
	for i, c := range categories {
		usage.Categories[c] = domain.NewCategoryUsage(counts[i], limits.Quota(c).Requests)
	}
	return usage, nil
}

// Reset apaga os contadores da categoria e do total, ou de todas as
// categorias quando category é vazio. Requisições que já passaram pela
// checagem não são afetadas.
func (s *QuotaService) Reset(ctx context.Context, userID string, category domain.Category, actor string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	categories := domain.Categories
	if category != "" {
		if category != domain.CategoryTotal && !slices.Contains(domain.Categories, category) {
			return fmt.Errorf("unknown quota category %q", category)
		}
		categories = []domain.Category{category}
	}
	categories = append([]domain.Category{domain.CategoryTotal}, categories...)

	var keys []string
	seen := make(map[string]struct{})
	for _, c := range categories {
		for _, period := range s.periods(c) {
			key := domain.QuotaKey(userID, c, period)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	if err := s.storage.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("reset quota for %s: %w", userID, err)
	}
	if s.audit != nil {
		details := "all categories"
		if category != "" {
			details = string(category)
		}
		audit := newAuditRecord(s.nowFn(), domain.AuditQuotaReset, "", userID, actor, details)
		if err := s.audit.AppendAudit(ctx, audit); err != nil {
			return fmt.Errorf("audit quota reset for %s: %w", userID, err)
		}
	}
	s.logger.Info("quota reset", zap.String("user_id", userID), zap.String("category", string(category)), zap.String("actor", actor))
	return nil
}

// periods lista os períodos distintos de uma categoria entre todos os tiers,
// já que a chave do contador inclui o período.
func (s *QuotaService) periods(c domain.Category) []time.Duration {
	var out []time.Duration
	seen := make(map[time.Duration]struct{})
	for _, limits := range s.tiers {
		q, ok := limits.Quotas[c]
		if !ok {
			continue
		}
		if _, dup := seen[q.Period]; dup {
			continue
		}
		seen[q.Period] = struct{}{}
		out = append(out, q.Period)
	}
	return out
}
