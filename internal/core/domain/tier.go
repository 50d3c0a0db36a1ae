package domain

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToUpper(strings.TrimSpace(s))); t {
	case TierFree, TierPro, TierEnterprise:
		return t, nil
	default:
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
}

type Category string

const (
	CategoryTotal     Category = "total"
	CategoryAnalytics Category = "analytics"
	CategoryAPI       Category = "api"
	CategoryAdmin     Category = "admin"
	CategoryPublic    Category = "public"
)

// Categories lista as categorias cobradas por requisição, sem o total.
var Categories = []Category{CategoryAnalytics, CategoryAPI, CategoryAdmin, CategoryPublic}

type QuotaLimit struct {
	Requests int
	Period   time.Duration
}

// TierLimits agrega o limite por minuto e a tabela de cotas de um tier.
type TierLimits struct {
	RequestsPerMinute int
	Quotas            map[Category]QuotaLimit
}

func (l TierLimits) Quota(c Category) QuotaLimit {
	return l.Quotas[c]
}

const quotaPeriod = 24 * time.Hour

func dailyQuotas(total, analytics, api, admin, public int) map[Category]QuotaLimit {
	return map[Category]QuotaLimit{
		CategoryTotal:     {Requests: total, Period: quotaPeriod},
		CategoryAnalytics: {Requests: analytics, Period: quotaPeriod},
		CategoryAPI:       {Requests: api, Period: quotaPeriod},
		CategoryAdmin:     {Requests: admin, Period: quotaPeriod},
		CategoryPublic:    {Requests: public, Period: quotaPeriod},
	}
}

// DefaultTierLimits retorna uma cópia nova da tabela padrão de tiers.
func DefaultTierLimits() map[Tier]TierLimits {
	return map[Tier]TierLimits{
		TierFree:       {RequestsPerMinute: 30, Quotas: dailyQuotas(1000, 100, 500, 0, 200)},
		TierPro:        {RequestsPerMinute: 100, Quotas: dailyQuotas(10000, 1000, 5000, 100, 2000)},
		TierEnterprise: {RequestsPerMinute: 300, Quotas: dailyQuotas(100000, 10000, 50000, 1000, 20000)},
	}
}
