package ports

import (
	"context"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

// BlockStore guarda o estado durável: bloqueios permanentes, whitelist e
// auditoria. Toda mutação grava o registro de auditoria na mesma transação;
// se a mutação não efetivar, a auditoria também não.
type BlockStore interface {
	AuditLog

	Ban(ctx context.Context, block domain.PermanentBlock, audit domain.AuditRecord) error
	Unban(ctx context.Context, ip string, audit domain.AuditRecord) error
	PermanentBlock(ctx context.Context, ip string) (domain.PermanentBlock, error)
	ListPermanentBlocks(ctx context.Context) ([]domain.PermanentBlock, error)

	Whitelist(ctx context.Context, entry domain.WhitelistEntry, audit domain.AuditRecord) error
	RemoveWhitelist(ctx context.Context, ip string, audit domain.AuditRecord) error
	WhitelistEntry(ctx context.Context, ip string) (domain.WhitelistEntry, error)
	ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error)

	ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error)

	Ping(ctx context.Context) error
}

// AuditLog recebe registros de mutações que não passam pelo BlockStore,
// como bloqueios temporários e resets de contadores.
type AuditLog interface {
	AppendAudit(ctx context.Context, audit domain.AuditRecord) error
}

// TierSource consulta o tier de assinatura de um usuário.
type TierSource interface {
	UserTier(ctx context.Context, userID string) (domain.Tier, error)
}

// TierWriter é implementado pelas fontes de tier que aceitam escrita.
type TierWriter interface {
	SetUserTier(ctx context.Context, userID string, tier domain.Tier) error
}

// AlertSink entrega alertas de segurança para um destino externo.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, alert domain.Alert) error
}
