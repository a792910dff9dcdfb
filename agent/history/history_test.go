package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

var (
	_ contractx.TranscriptStore = (*MemoryRepository)(nil)
	_ contractx.TranscriptStore = (*RedisRepository)(nil)
)

func TestMemoryRepositoryRecentWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(5)
	for i := 0; i < 7; i++ {
		if err := repo.Append(ctx, "c1", schema.UserMessage(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	all, err := repo.Recent(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 5 || all[0].Content != "m2" {
		t.Fatalf("cap not applied: len=%d first=%q", len(all), all[0].Content)
	}

	last, _ := repo.Recent(ctx, "c1", 2)
	if len(last) != 2 || last[0].Content != "m5" || last[1].Content != "m6" {
		t.Fatalf("Recent(2) = %v", last)
	}

	last[0].Content = "mutated"
	again, _ := repo.Recent(ctx, "c1", 2)
	if again[0].Content != "m5" {
		t.Fatal("Recent() returned shared messages")
	}
}

func TestMemoryRepositoryRejectsEmptyID(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository(0)
	if err := repo.Append(context.Background(), " ", schema.UserMessage("x")); !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("Append() error = %v", err)
	}
}

func TestRedisRepositoryAppendAndTrim(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	repo := NewRedisRepository(rdb, time.Minute, 3)
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.Clear(ctx, id) })

	for i := 0; i < 4; i++ {
		if err := repo.Append(ctx, id, schema.UserMessage(fmt.Sprintf("m%d", i)), schema.AssistantMessage("ok", nil)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	msgs, err := repo.Recent(ctx, id, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[2].Role != schema.Assistant {
		t.Fatalf("last role = %s", msgs[2].Role)
	}
}
