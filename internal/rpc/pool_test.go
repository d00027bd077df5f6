package rpc

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, clock *fakeClock, names ...string) *Pool {
	t.Helper()

	endpoints := make([]Endpoint, 0, len(names))
	for _, name := range names {
		endpoints = append(endpoints, Endpoint{Name: name, Address: "http://" + name})
	}

	pool, err := NewPool(endpoints, PoolOptions{Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	return pool
}

func TestNewPoolRequiresEndpoints(t *testing.T) {
	if _, err := NewPool(nil, PoolOptions{}); err != ErrNoEndpoints {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestEndpointDemotedAfterTwoConsecutiveFailures(t *testing.T) {
	pool := newTestPool(t, newFakeClock(), "primary", "fallback")

	pool.ReportFailure("primary")
	if got := pool.SelectEndpoint().Name; got != "primary" {
		t.Fatalf("one failure must not demote, selected %s", got)
	}

	pool.ReportFailure("primary")
	if got := pool.SelectEndpoint().Name; got != "fallback" {
		t.Fatalf("expected fallback after two failures, selected %s", got)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	pool := newTestPool(t, newFakeClock(), "primary", "fallback")

	pool.ReportFailure("primary")
	pool.ReportSuccess("primary")
	pool.ReportFailure("primary")

	if got := pool.SelectEndpoint().Name; got != "primary" {
		t.Fatalf("non-consecutive failures must not demote, selected %s", got)
	}
}

func TestEndpointRestoredAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "primary", "fallback")

	pool.ReportFailure("primary")
	pool.ReportFailure("primary")

	clock.Advance(59 * time.Second)
	if got := pool.SelectEndpoint().Name; got != "fallback" {
		t.Fatalf("expected fallback before cooldown, selected %s", got)
	}

	clock.Advance(time.Second)
	if got := pool.SelectEndpoint().Name; got != "primary" {
		t.Fatalf("expected primary after cooldown, selected %s", got)
	}
}

func TestSelectEndpointFailsOpenWhenAllUnhealthy(t *testing.T) {
	pool := newTestPool(t, newFakeClock(), "primary", "fallback")

	for _, name := range []string{"primary", "fallback"} {
		pool.ReportFailure(name)
		pool.ReportFailure(name)
	}

	for _, status := range pool.Snapshot() {
		if status.Healthy {
			t.Fatalf("expected %s unhealthy", status.Name)
		}
	}

	selected := pool.SelectEndpoint()
	if selected.Name != "primary" || !selected.Healthy {
		t.Fatalf("expected primary reset to healthy, got %+v", selected)
	}
}

func TestPoolConcurrentReports(t *testing.T) {
	pool := newTestPool(t, newFakeClock(), "primary", "fallback")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			endpoint := pool.SelectEndpoint()
			if i%2 == 0 {
				pool.ReportFailure(endpoint.Name)
			} else {
				pool.ReportSuccess(endpoint.Name)
			}
		}(i)
	}
	wg.Wait()

	if len(pool.Snapshot()) != 2 {
		t.Fatal("snapshot lost endpoints")
	}
}
