package state

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// These tests need a live Redis; set REDIS_TEST_URL to run them.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_TEST_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStoreRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRedisStore(rdb, time.Minute)

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = store.Delete(ctx, id) })

	if _, err := store.Load(ctx, id); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}

	st := NewConversationState(id, "", "", time.Now())
	st.BeginTurn(time.Now())
	st.RefuseSlot("order_id", time.Now())
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.IsRefused("order_id") {
		t.Fatal("refusal lost in round trip")
	}
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	id := "test-" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, id); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Lock() error = %v, want ErrLockTimeout", err)
	}

	unlock()
	again, err := locker.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}
