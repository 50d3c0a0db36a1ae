// Package domain concentra entidades e estruturas centrais da camada de admissão.
package domain

import "time"

// RateLimitRule descreve um escopo de janela fixa.
type RateLimitRule struct {
	Scope    string
	Requests int
	Window   time.Duration
	// KeyPrefix compõe a chave rl:{KeyPrefix}:{identidade}. Vazio usa Scope.
	KeyPrefix string
	// SkipSuccessfulRequests devolve a unidade consumida quando a resposta não é falha.
	SkipSuccessfulRequests bool
	SkipLocalhost          bool
	// Dynamic indica que Requests é resolvido por chamador (escopo user).
	Dynamic bool
}

func (r RateLimitRule) Prefix() string {
	if r.KeyPrefix != "" {
		return r.KeyPrefix
	}
	return r.Scope
}

type RateLimitRequest struct {
	Scope  string
	IP     string
	Caller Caller
}

// Identity resolve quem é contado: usuário autenticado, IP ou "unknown".
func (r RateLimitRequest) Identity() string {
	if r.Caller.UserID != "" {
		return r.Caller.UserID
	}
	if r.IP != "" {
		return r.IP
	}
	return UnknownIdentity
}

const UnknownIdentity = "unknown"

type Decision struct {
	Allowed      bool
	Identifier   string
	AppliedRule  RateLimitRule
	CurrentCount int64
	// ResetAfter é o tempo até a janela atual fechar.
	ResetAfter time.Duration
	RetryAfter time.Duration
	// Degraded marca decisões tomadas pelo contador local do processo,
	// que não é compartilhado entre instâncias.
	Degraded bool
}

// Remaining retorna quantas requisições ainda cabem na janela atual.
func (d Decision) Remaining() int64 {
	left := int64(d.AppliedRule.Requests) - d.CurrentCount
	if left < 0 {
		return 0
	}
	return left
}

// ScopeUsage é a fotografia de um contador de escopo para monitoramento.
type ScopeUsage struct {
	Scope          string `json:"scope"`
	Count          int64  `json:"count"`
	Limit          int    `json:"limit"`
	ResetInSeconds int64  `json:"resetInSeconds"`
}
