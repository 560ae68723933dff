package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/selfheal/control-plane/internal/testutil"
)

// unreachable returns a cache whose client can never connect.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewWithClient(client, 0, testutil.NewTestLogger())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("not a url", time.Minute, testutil.NewTestLogger()); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewWithClient_DefaultTTL(t *testing.T) {
	c := unreachable(t)
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}

func TestPublish_CountsFailures(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	if err := c.Publish(ctx, map[string]int{"system_health": 90}); err == nil {
		t.Fatal("expected publish to fail without a server")
	}
	if err := c.Publish(ctx, map[string]int{"system_health": 91}); err == nil {
		t.Fatal("expected publish to fail without a server")
	}

	stats := c.Stats(ctx)
	if !stats.Enabled {
		t.Error("expected Enabled")
	}
	if stats.Connected {
		t.Error("expected Connected = false")
	}
	if stats.Failed != 2 || stats.Published != 0 {
		t.Errorf("stats = %+v, want 2 failed, 0 published", stats)
	}
}

func TestPublish_UnmarshalableValue(t *testing.T) {
	c := unreachable(t)

	if err := c.Publish(context.Background(), make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	// Marshal errors never reach Redis and are not counted.
	if got := c.Stats(context.Background()).Failed; got != 0 {
		t.Errorf("Failed = %d, want 0", got)
	}
}

func TestGetJSON_Unreachable(t *testing.T) {
	c := unreachable(t)

	var v map[string]int
	found, err := c.GetJSON(context.Background(), SnapshotKey, &v)
	if err == nil {
		t.Fatal("expected error without a server")
	}
	if found {
		t.Error("expected found = false")
	}
}
