package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type key struct {
	userID    string
	sessionID string
}

type entry struct {
	flow       *Flow
	lastActive time.Time
}

// Registry holds the in-memory flow of every open tab, keyed by anonymous
// user and tab session id.
type Registry struct {
	mu    sync.Mutex
	flows map[key]*entry
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[key]*entry),
		now:   time.Now,
	}
}

// Get returns the tab's flow, creating one in the initializing state if the
// tab has none. It also marks the flow as active.
func (r *Registry) Get(userID, sessionID string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{userID: userID, sessionID: sessionID}
	e, ok := r.flows[k]
	if !ok {
		e = &entry{flow: New()}
		r.flows[k] = e
		slog.Debug("Flow created", "user_id", userID, "session_id", sessionID)
	}
	e.lastActive = r.now()
	return e.flow
}

// Discard drops the tab's flow.
func (r *Registry) Discard(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, key{userID: userID, sessionID: sessionID})
}

// Len returns the number of tracked flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep evicts flows idle for longer than ttl and returns how many were removed.
// Flows mid-submission are kept.
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	removed := 0
	for k, e := range r.flows {
		if e.lastActive.Before(cutoff) && e.flow.State() != StateSubmitting {
			delete(r.flows, k)
			removed++
		}
	}
	return removed
}

const defaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically evicts idle
// flows. The returned channel is closed once the goroutine exits.
func StartSweeper(ctx context.Context, r *Registry, ttl, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Flow sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(ttl); n > 0 {
					slog.Info("Flow sweeper evicted idle flows", "count", n, "remaining", r.Len())
				}
			case <-ctx.Done():
				slog.Info("Flow sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
