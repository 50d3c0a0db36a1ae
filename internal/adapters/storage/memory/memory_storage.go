// Package memory disponibiliza um CounterStore local ao processo.
//
// Serve como dublê determinístico nos testes e como contador de fallback
// quando o Redis está indisponível. Nesse papel o estado não é compartilhado
// entre instâncias: cada processo aplica o próprio limite.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

type Storage struct {
	mu           sync.Mutex
	entries      map[string]*entry
	nowFn        func() time.Time
	cleanupEvery time.Duration
}

var _ ports.CounterStore = (*Storage)(nil)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) ttl(now time.Time) time.Duration {
	if e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(now)
}

type Option func(*Storage)

// WithClock troca a fonte de tempo; usado para testar expiração.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.nowFn = now }
}

func WithCleanupEvery(d time.Duration) Option {
	return func(s *Storage) { s.cleanupEvery = d }
}

func New(opts ...Option) *Storage {
	s := &Storage{
		entries:      make(map[string]*entry),
		nowFn:        time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live devolve a entrada se ainda válida, removendo-a se expirou.
// Deve ser chamado com s.mu travado.
func (s *Storage) live(key string, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Storage) Increment(_ context.Context, incs ...ports.Increment) ([]ports.Counter, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ports.Counter, 0, len(incs))
	for _, inc := range incs {
		e := s.live(inc.Key, now)
		if e == nil {
			e = &entry{value: "0"}
			if inc.TTL > 0 {
				e.expiresAt = now.Add(inc.TTL)
			}
			s.entries[inc.Key] = e
		}
		n, _ := strconv.ParseInt(e.value, 10, 64)
		n++
		e.value = strconv.FormatInt(n, 10)
		out = append(out, ports.Counter{Value: n, TTL: e.ttl(now)})
	}
	return out, nil
}

func (s *Storage) Decrement(_ context.Context, key string) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, now)
	if e == nil {
		return nil
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	if n > 0 {
		e.value = strconv.FormatInt(n-1, 10)
	}
	return nil
}

func (s *Storage) Counts(_ context.Context, keys ...string) ([]int64, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, len(keys))
	for i, key := range keys {
		if e := s.live(key, now); e != nil {
			out[i], _ = strconv.ParseInt(e.value, 10, 64)
		}
	}
	return out, nil
}

func (s *Storage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Storage) Get(_ context.Context, key string) (ports.Entry, bool, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, now)
	if e == nil {
		return ports.Entry{}, false, nil
	}
	return ports.Entry{Value: e.value, TTL: e.ttl(now)}, true, nil
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *Storage) Keys(_ context.Context, prefix string) ([]string, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if s.live(key, now) != nil {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Storage) Ping(context.Context) error {
	return nil
}

// Cleanup remove entradas expiradas que ninguém voltou a consultar.
func (s *Storage) Cleanup() {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

// Len conta as entradas retidas, expiradas ou não.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que chama Cleanup periodicamente.
// Pare cancelando o contexto.
func (s *Storage) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
