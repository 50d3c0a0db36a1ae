package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

var errStoreDown = errors.New("store down")

// brokenStore fails every call, as a CounterStore behind a dead connection would.
type brokenStore struct{}

func (brokenStore) Increment(context.Context, ...ports.Increment) ([]ports.Counter, error) {
	return nil, errStoreDown
}
func (brokenStore) Decrement(context.Context, string) error { return errStoreDown }
func (brokenStore) Counts(context.Context, ...string) ([]int64, error) {
	return nil, errStoreDown
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error { return errStoreDown }
func (brokenStore) Get(context.Context, string) (ports.Entry, bool, error) {
	return ports.Entry{}, false, errStoreDown
}
func (brokenStore) Delete(context.Context, ...string) error { return errStoreDown }
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errStoreDown }
func (brokenStore) Ping(context.Context) error { return errStoreDown }

// fakeBlockStore keeps durable state in maps. When failWith is set, reads and
// mutations return it and nothing is recorded.
type fakeBlockStore struct {
	mu        sync.Mutex
	blocks    map[string]domain.PermanentBlock
	whitelist map[string]domain.WhitelistEntry
	audit     []domain.AuditRecord
	failWith  error
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{
		blocks:    make(map[string]domain.PermanentBlock),
		whitelist: make(map[string]domain.WhitelistEntry),
	}
}

var _ ports.BlockStore = (*fakeBlockStore)(nil)

func (f *fakeBlockStore) AppendAudit(_ context.Context, audit domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeBlockStore) Ban(_ context.Context, block domain.PermanentBlock, audit domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.blocks[block.IP] = block
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeBlockStore) Unban(_ context.Context, ip string, audit domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.blocks[ip]; !ok {
		return domain.ErrNotFound
	}
	delete(f.blocks, ip)
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeBlockStore) PermanentBlock(_ context.Context, ip string) (domain.PermanentBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return domain.PermanentBlock{}, f.failWith
	}
	block, ok := f.blocks[ip]
	if !ok {
		return domain.PermanentBlock{}, domain.ErrNotFound
	}
	return block, nil
}

func (f *fakeBlockStore) ListPermanentBlocks(context.Context) ([]domain.PermanentBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PermanentBlock, 0, len(f.blocks))
	for _, b := range f.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (f *fakeBlockStore) Whitelist(_ context.Context, entry domain.WhitelistEntry, audit domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.whitelist[entry.IP] = entry
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeBlockStore) RemoveWhitelist(_ context.Context, ip string, audit domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.whitelist[ip]; !ok {
		return domain.ErrNotFound
	}
	delete(f.whitelist, ip)
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeBlockStore) WhitelistEntry(_ context.Context, ip string) (domain.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return domain.WhitelistEntry{}, f.failWith
	}
	entry, ok := f.whitelist[ip]
	if !ok {
		return domain.WhitelistEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

func (f *fakeBlockStore) ListWhitelist(context.Context) ([]domain.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WhitelistEntry, 0, len(f.whitelist))
	for _, e := range f.whitelist {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (f *fakeBlockStore) ListAudit(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditRecord, 0, len(f.audit))
	for i := len(f.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.audit[i])
	}
	return out, nil
}

func (f *fakeBlockStore) Ping(context.Context) error { return f.failWith }

func (f *fakeBlockStore) actions() []domain.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditAction, len(f.audit))
	for i, a := range f.audit {
		out[i] = a.Action
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSink) received() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}

type stubTierSource struct {
	mu    sync.Mutex
	tiers map[string]domain.Tier
	err   error
	calls int
}

func (s *stubTierSource) UserTier(_ context.Context, userID string) (domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	tier, ok := s.tiers[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return tier, nil
}

// clock is a settable time source shared between a service and its store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type writableTierSource struct {
	stubTierSource
}

func (s *writableTierSource) SetUserTier(_ context.Context, userID string, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.tiers == nil {
		s.tiers = make(map[string]domain.Tier)
	}
	s.tiers[userID] = tier
	return nil
}
