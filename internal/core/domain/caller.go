package domain

import "strings"

type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole aceita qualquer capitalização; desconhecido vira USER.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleModerator:
		return RoleModerator
	default:
		return RoleUser
	}
}

// Caller é o contexto de autenticação já resolvido pela camada anterior.
type Caller struct {
	UserID string
	Role   Role
	Tier   Tier
}

func (c Caller) Authenticated() bool {
	return c.UserID != ""
}
