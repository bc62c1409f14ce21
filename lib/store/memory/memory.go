package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/glasswall-sec/slidegate/lib/store"
)

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type entry struct {
	session store.Session
	expires time.Time
}

type impl struct {
	mu       sync.Mutex
	sessions map[string]entry
}

func (i *impl) Create(_ context.Context, s *store.Session, ttl time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.sessions[s.ID] = entry{
		session: *s,
		expires: time.Now().Add(ttl),
	}

	return nil
}

func (i *impl) Get(_ context.Context, id string) (store.Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.sessions[id]
	if !ok || time.Now().After(e.expires) {
		delete(i.sessions, id)
		return store.Session{}, store.ErrNotFound
	}

	return e.session, nil
}

func (i *impl) Increment(_ context.Context, id string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.sessions[id]
	if !ok || time.Now().After(e.expires) {
		delete(i.sessions, id)
		return 0, store.ErrNotFound
	}

	e.session.Attempts++
	i.sessions[id] = e

	return e.session.Attempts, nil
}

func (i *impl) Delete(_ context.Context, id string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.sessions[id]
	delete(i.sessions, id)
	return ok, nil
}

func (i *impl) Sweep(_ context.Context) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range i.sessions {
		if now.After(e.expires) {
			delete(i.sessions, id)
			removed++
		}
	}

	return removed, nil
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.Sweep(ctx)
		}
	}
}

// New creates a simple in-memory session store. This will not scale to
// multiple slidegate instances; use the valkey backend for that.
func New(ctx context.Context) store.Interface {
	result := &impl{
		sessions: map[string]entry{},
	}

	go result.cleanupThread(ctx)

	return result
}
