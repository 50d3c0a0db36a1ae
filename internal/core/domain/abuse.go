package domain

import "time"

type SecurityEventType string

const (
	EventLoginAttempt               SecurityEventType = "LOGIN_ATTEMPT"
	EventPrivilegeEscalationAttempt SecurityEventType = "PRIVILEGE_ESCALATION_ATTEMPT"
	EventSQLInjectionAttempt        SecurityEventType = "SQL_INJECTION_ATTEMPT"
	EventXSSAttempt                 SecurityEventType = "XSS_ATTEMPT"
	EventForbiddenAccess            SecurityEventType = "FORBIDDEN_ACCESS"
	EventPermissionDenied           SecurityEventType = "PERMISSION_DENIED"
)

// IsAttackSignature indica eventos que disparam alerta crítico imediato.
func (t SecurityEventType) IsAttackSignature() bool {
	switch t {
	case EventPrivilegeEscalationAttempt, EventSQLInjectionAttempt, EventXSSAttempt:
		return true
	}
	return false
}

func (t SecurityEventType) IsAuthorizationDenial() bool {
	return t == EventForbiddenAccess || t == EventPermissionDenied
}

type SecurityEvent struct {
	Type    SecurityEventType
	IP      string
	UserID  string
	Success bool
	Details string
	At      time.Time
}

type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Alert struct {
	ID        string            `json:"id"`
	Severity  Severity          `json:"severity"`
	EventType SecurityEventType `json:"eventType"`
	Title     string            `json:"title"`
	IP        string            `json:"ip,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Count     int64             `json:"count,omitempty"`
	Details   string            `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// Outcome é o resultado final de uma requisição observado pelo detector.
type Outcome struct {
	IP     string
	UserID string
	Path   string
	Status int
	// AdmissionDenied marca respostas escritas pela própria admissão
	// (portão de IPs, cota zerada do tier), não pelo handler da rota.
	AdmissionDenied bool
}
