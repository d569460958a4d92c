package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistryKeepsOneFlowPerTab(t *testing.T) {
	r := NewRegistry()
	a := r.Get("anon_1", "tab-1")
	b := r.Get("anon_1", "tab-1")
	c := r.Get("anon_1", "tab-2")
	d := r.Get("anon_2", "tab-1")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.NotSame(t, a, d)
	assert.Equal(t, 3, r.Len())

	r.Discard("anon_1", "tab-2")
	assert.Equal(t, 2, r.Len())
}

func TestRegistrySweepEvictsIdleFlows(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Get("anon_1", "old")
	now = now.Add(90 * time.Minute)
	r.Get("anon_1", "fresh")
	now = now.Add(45 * time.Minute)

	removed := r.Sweep(2 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, r, time.Hour, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
