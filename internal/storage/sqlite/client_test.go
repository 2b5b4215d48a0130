package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/scout-dashboard/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestQueryHistoryRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	records := []models.QueryRecord{
		{ID: "a", RequestID: "r1", UserID: "u1", QueryText: "top brands", Answer: "x", Source: models.SourceAI, Confidence: 0.8, TokensUsed: 120, LatencyMS: 40, CreatedAt: base},
		{ID: "b", RequestID: "r2", UserID: "u1", QueryText: "peak hours", Answer: "y", Source: models.SourceFallback, Confidence: 0.4, LatencyMS: 9000, Error: "timed out", CreatedAt: base.Add(time.Minute)},
		{ID: "c", RequestID: "r3", UserID: "u2", QueryText: "regions", Answer: "z", Source: models.SourceCache, Confidence: 0.9, LatencyMS: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range records {
		if err := c.InsertQueryRecord(ctx, &records[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.GetQueryHistory(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("order = %s,%s, want newest first", got[0].ID, got[1].ID)
	}
	if got[0].Error != "timed out" || got[0].Source != models.SourceFallback {
		t.Fatalf("record = %+v", got[0])
	}
	if !got[1].CreatedAt.Equal(base) || got[1].TokensUsed != 120 {
		t.Fatalf("record = %+v", got[1])
	}

	limited, err := c.GetQueryHistory(ctx, "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("len = %d, want 1", len(limited))
	}

	none, err := c.GetQueryHistory(ctx, "nobody", 0)
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("history = %#v, want empty slice", none)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	r := &models.QueryRecord{ID: "dup", RequestID: "r", QueryText: "q", Answer: "a", Source: models.SourceAI, CreatedAt: time.Now()}

	if err := c.InsertQueryRecord(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := c.InsertQueryRecord(ctx, r); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestSourceCounts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sources := []models.Source{models.SourceAI, models.SourceAI, models.SourceFallback, models.SourceCache}
	for i, s := range sources {
		r := &models.QueryRecord{ID: string(rune('a' + i)), RequestID: "r", QueryText: "q", Answer: "a", Source: s, CreatedAt: now}
		if err := c.InsertQueryRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	old := &models.QueryRecord{ID: "old", RequestID: "r", QueryText: "q", Answer: "a", Source: models.SourceAI, CreatedAt: now.Add(-2 * time.Hour)}
	if err := c.InsertQueryRecord(ctx, old); err != nil {
		t.Fatal(err)
	}

	counts, err := c.SourceCounts(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.SourceAI] != 2 || counts[models.SourceFallback] != 1 || counts[models.SourceCache] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
