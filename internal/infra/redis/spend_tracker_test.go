package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSpendTracker_KeyPerDay(t *testing.T) {
	tr := NewSpendTracker(nil, "")
	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	if got := tr.key("h-1", day); got != "guardian:spend:h-1:2026-03-10" {
		t.Errorf("unexpected key %q", got)
	}
	if tr.key("h-1", day) == tr.key("h-1", day.Add(2*time.Minute)) {
		t.Error("different days must use different keys")
	}
}

func TestSpendTracker_PrefixTrimmed(t *testing.T) {
	tr := NewSpendTracker(nil, " custom: ")
	if tr.prefix != "custom" {
		t.Errorf("unexpected prefix %q", tr.prefix)
	}
}

// Needs a running Redis; skipped unless TEST_REDIS_URL is set.
func TestSpendTracker_Accumulates(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	tr := NewSpendTracker(client, "test:"+uuid.NewString())
	day := time.Now()

	if got, _ := tr.DailySpend(ctx, "h-1", day); got != 0 {
		t.Fatalf("expected empty counter, got %d", got)
	}
	if _, err := tr.AddSpend(ctx, "h-1", day, 400); err != nil {
		t.Fatal(err)
	}
	total, err := tr.AddSpend(ctx, "h-1", day, 600)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1000 {
		t.Errorf("expected 1000, got %d", total)
	}
}
