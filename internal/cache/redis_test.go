package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	c, err := NewRedisCache(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0, "test-"+uuid.NewString()+":")
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected cache miss, got %v", err)
	}

	c.Set(ctx, ViewerKey("1.2.3", "aa"), []byte("a"), time.Minute)
	c.Set(ctx, ViewerKey("1.2.3", "bb"), []byte("b"), time.Minute)
	c.Set(ctx, ViewerKey("1.2.34", "aa"), []byte("c"), time.Minute)

	got, err := c.Get(ctx, ViewerKey("1.2.3", "aa"))
	if err != nil || string(got) != "a" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := c.Clear(ctx, ViewerPattern("1.2.3")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, ViewerKey("1.2.3", "bb")); ok {
		t.Error("key survived Clear")
	}
	if ok, _ := c.Exists(ctx, ViewerKey("1.2.34", "aa")); !ok {
		t.Error("unrelated study was cleared")
	}
	c.Delete(ctx, ViewerKey("1.2.34", "aa"))
}
