package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/madahq/mada-sync/internal/platform/storage"
)

var errRemoteDown = errors.New("remote down")

// fakeClock is a manually advanced clock so debounce and backoff
// behavior can be tested deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

// Advance moves the clock forward and fires due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !c.now.Before(t.deadline) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// pendingTimers counts armed, unfired timers.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// countingStore wraps a memory store with write counting and fault
// injection.
type countingStore struct {
	inner   *storage.MemoryStore
	mu      sync.Mutex
	sets    int
	removes int
	failSet error
	failGet error
}

func newCountingStore() *countingStore {
	return &countingStore{inner: storage.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	failGet := s.failGet
	s.mu.Unlock()
	if failGet != nil {
		return nil, failGet
	}
	return s.inner.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.sets++
	failSet := s.failSet
	s.mu.Unlock()
	if failSet != nil {
		return failSet
	}
	return s.inner.Set(ctx, key, value)
}

func (s *countingStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removes++
	s.mu.Unlock()
	return s.inner.Remove(ctx, key)
}

func (s *countingStore) Close() error { return nil }

func (s *countingStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *countingStore) setFailSet(err error) {
	s.mu.Lock()
	s.failSet = err
	s.mu.Unlock()
}

// mockRemote records executed mutations and fails types listed in
// failTypes until their budget reaches zero.
type mockRemote struct {
	mu        sync.Mutex
	executed  []string
	failTypes map[string]int
	failAll   error
}

func newMockRemote() *mockRemote {
	return &mockRemote{failTypes: make(map[string]int)}
}

func (r *mockRemote) Execute(ctx context.Context, mutationType string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if n, ok := r.failTypes[mutationType]; ok && n > 0 {
		r.failTypes[mutationType] = n - 1
		return errRemoteDown
	}
	r.executed = append(r.executed, mutationType)
	return nil
}

func (r *mockRemote) executedTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.executed))
	copy(out, r.executed)
	return out
}

// mockProbe reports a settable connectivity state.
type mockProbe struct {
	mu     sync.Mutex
	online bool
}

func (p *mockProbe) IsOnline(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *mockProbe) setOnline(v bool) {
	p.mu.Lock()
	p.online = v
	p.mu.Unlock()
}

// mockPublisher records evicted mutations.
type mockPublisher struct {
	mu      sync.Mutex
	evicted []*QueuedMutation
}

func (p *mockPublisher) PublishExhausted(ctx context.Context, m *QueuedMutation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = append(p.evicted, m)
	return nil
}

func (p *mockPublisher) evictedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.evicted))
	for i, m := range p.evicted {
		out[i] = m.ID
	}
	return out
}
