package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

func newAuditRecord(now time.Time, action domain.AuditAction, ip, userID, actor, details string) domain.AuditRecord {
	return domain.AuditRecord{
		ID:        uuid.NewString(),
		Action:    action,
		IP:        ip,
		UserID:    userID,
		Actor:     actor,
		Details:   details,
		CreatedAt: now.UTC(),
	}
}
