// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"
)

type Increment struct {
	Key string
	TTL time.Duration
}

type Counter struct {
	Value int64
	TTL   time.Duration
}

type Entry struct {
	Value string
	TTL   time.Duration
}

// CounterStore é o armazenamento efêmero compartilhado, com expiração por TTL
// controlada pelo próprio store.
type CounterStore interface {
	// Increment soma 1 em todas as chaves numa única operação indivisível e
	// devolve os valores pós-incremento na mesma ordem. O TTL só é aplicado
	// às chaves criadas pela chamada.
	Increment(ctx context.Context, incs ...Increment) ([]Counter, error)
	// Decrement subtrai 1 de uma chave existente, sem nunca ficar negativo.
	Decrement(ctx context.Context, key string) error
	// Counts lê vários contadores de uma vez; chaves ausentes valem 0.
	Counts(ctx context.Context, keys ...string) ([]int64, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get devolve found=false quando a chave não existe ou expirou.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
