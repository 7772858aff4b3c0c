package infra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(), CacheOptions{})
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.CheckGet(t, "k", "v")
}

func TestNewRedisClientAppliesOptions(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(), CacheOptions{
		PoolSize:   4,
		OpTimeout:  750 * time.Millisecond,
		MaxRetries: -1,
	})
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	defer client.Close()

	opt := client.Options()
	if opt.PoolSize != 4 {
		t.Fatalf("expected pool size 4, got %d", opt.PoolSize)
	}
	if opt.DialTimeout != 750*time.Millisecond || opt.ReadTimeout != 750*time.Millisecond || opt.WriteTimeout != 750*time.Millisecond {
		t.Fatalf("timeouts not applied: dial=%s read=%s write=%s", opt.DialTimeout, opt.ReadTimeout, opt.WriteTimeout)
	}
	if opt.MaxRetries != -1 {
		t.Fatalf("expected retries disabled, got %d", opt.MaxRetries)
	}
}

func TestNewRedisClientRejectsBadInput(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "", CacheOptions{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewRedisClient(context.Background(), "not a url", CacheOptions{}); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestNewPostgresPoolRejectsBadInput(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", PoolOptions{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewPostgresPool(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
