package middleware

import (
	"context"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
)

type contextKey int

const (
	callerKey contextKey = iota
	clientIPKey
	admissionKey
)

func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext devolve o chamador autenticado, ou um Caller vazio.
func CallerFromContext(ctx context.Context) domain.Caller {
	caller, _ := ctx.Value(callerKey).(domain.Caller)
	return caller
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

type admissionMark struct{ denied bool }

func withAdmissionMark(ctx context.Context) (context.Context, *admissionMark) {
	mark := &admissionMark{}
	return context.WithValue(ctx, admissionKey, mark), mark
}

// markAdmissionDenied sinaliza ao observador de desfechos que a resposta
// foi uma negação da admissão.
func markAdmissionDenied(ctx context.Context) {
	if mark, ok := ctx.Value(admissionKey).(*admissionMark); ok {
		mark.denied = true
	}
}
