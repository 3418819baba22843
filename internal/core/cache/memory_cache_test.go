package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/t2t2-app/t2t2/internal/models"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.SetProgress(ctx, "user-1", models.IndexProgress{
		Status:          models.JobRunning,
		TotalChunks:     10,
		ProcessedChunks: 4,
	}); err != nil {
		t.Fatalf("set: %v", err)
	}

	p, err := c.GetProgress(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.ProcessedChunks != 4 || p.TotalChunks != 10 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt must be stamped on write")
	}
}

func TestMemoryCache_MissingUser(t *testing.T) {
	c := NewMemoryCache()
	_, err := c.GetProgress(context.Background(), "nobody")
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestMemoryCache_LastWriteWins(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_ = c.SetProgress(ctx, "user-1", models.IndexProgress{ProcessedChunks: 1})
	_ = c.SetProgress(ctx, "user-1", models.IndexProgress{ProcessedChunks: 2})

	p, err := c.GetProgress(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.ProcessedChunks != 2 {
		t.Fatalf("expected last write to win, got %+v", p)
	}
}
