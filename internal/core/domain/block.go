package domain

import (
	"net/http"
	"time"
)

type PermanentBlock struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type WhitelistEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type TempBlock struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuditAction string

const (
	AuditBan            AuditAction = "IP_BANNED"
	AuditUnban          AuditAction = "IP_UNBANNED"
	AuditTempBlock      AuditAction = "IP_TEMP_BLOCKED"
	AuditTempUnblock    AuditAction = "IP_TEMP_UNBLOCKED"
	AuditWhitelist      AuditAction = "IP_WHITELISTED"
	AuditUnwhitelist    AuditAction = "IP_WHITELIST_REMOVED"
	AuditQuotaReset     AuditAction = "QUOTA_RESET"
	AuditRateLimitReset AuditAction = "RATE_LIMIT_RESET"
)

// AuditRecord é append-only; um por mutação administrativa efetivada.
type AuditRecord struct {
	ID        string      `json:"id"`
	Action    AuditAction `json:"action"`
	IP        string      `json:"ip,omitempty"`
	UserID    string      `json:"userId,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	Details   string      `json:"details,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type IPState string

const (
	StateNormal             IPState = "normal"
	StateTempBlocked        IPState = "temp_blocked"
	StatePermanentlyBlocked IPState = "permanently_blocked"
	StateWhitelisted        IPState = "whitelisted"
)

// IPStatus responde ao endpoint de checagem administrativa.
type IPStatus struct {
	IP                string  `json:"ip"`
	Blocked           bool    `json:"blocked"`
	TempBlocked       bool    `json:"tempBlocked"`
	Whitelisted       bool    `json:"whitelisted"`
	Violations        int64   `json:"violations"`
	RetryAfterSeconds int64   `json:"retryAfterSeconds,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Status            IPState `json:"status"`
}

type AccessDecision struct {
	Allowed    bool
	HTTPStatus int
	Reason     string
	RetryAfter time.Duration
}

func AllowAccess() AccessDecision {
	return AccessDecision{Allowed: true}
}

func DenyAccess(reason string, retryAfter time.Duration) AccessDecision {
	return AccessDecision{
		Allowed:    false,
		HTTPStatus: http.StatusForbidden,
		Reason:     reason,
		RetryAfter: retryAfter,
	}
}
