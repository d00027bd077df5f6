package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vin-jex/relay-gateway/internal/migrate"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	return url
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := NewStore(ctx, testDatabaseURL(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)

	if err := migrate.Run(ctx, store.Pool(), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Pool().Exec(ctx, `
		TRUNCATE jobs, workers, api_keys, workflows, workflow_executions,
			webhooks, webhook_deliveries, proof_jobs
	`); err != nil {
		t.Fatal(err)
	}

	return store
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Microsecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
