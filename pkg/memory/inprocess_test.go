package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/models"
)

func storedRecord(id string, embedding []float32, outcome models.Outcome, closedAt time.Time) *models.MemoryRecord {
	return &models.MemoryRecord{
		ID:        id,
		Embedding: embedding,
		Payload: models.MemoryPayload{
			Fingerprint:     "fp-" + id,
			Severity:        "warning",
			Outcome:         outcome,
			DurationSeconds: 30,
			LLMCostUSD:      0.01,
			ClosedAt:        closedAt,
		},
	}
}

func TestInProcessIndexUpsertAndSearch(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, idx.Upsert(ctx, storedRecord("a", []float32{1, 0, 0}, models.OutcomeResolved, now)))
	require.NoError(t, idx.Upsert(ctx, storedRecord("b", []float32{0.9, 0.1, 0}, models.OutcomeResolved, now)))
	require.NoError(t, idx.Upsert(ctx, storedRecord("c", []float32{0, 0, 1}, models.OutcomeFailed, now)))

	got, err := idx.Search(ctx, []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Record.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "b", got[1].Record.ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestInProcessIndexMinScoreFilter(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, idx.Upsert(ctx, storedRecord("near", []float32{1, 0}, models.OutcomeResolved, now)))
	require.NoError(t, idx.Upsert(ctx, storedRecord("far", []float32{0, 1}, models.OutcomeResolved, now)))

	got, err := idx.Search(ctx, []float32{1, 0}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Record.ID)
}

func TestInProcessIndexTiesBrokenByRecency(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	base := time.Now().UTC()

	// Identical embeddings: scores tie, newest closure wins.
	require.NoError(t, idx.Upsert(ctx, storedRecord("old", []float32{1, 0}, models.OutcomeResolved, base.Add(-time.Hour))))
	require.NoError(t, idx.Upsert(ctx, storedRecord("new", []float32{1, 0}, models.OutcomeResolved, base)))

	got, err := idx.Search(ctx, []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Record.ID)
	assert.Equal(t, "old", got[1].Record.ID)
}

func TestInProcessIndexTruncatesToK(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, idx.Upsert(ctx, storedRecord(id, []float32{1, 0}, models.OutcomeResolved, now)))
	}

	got, err := idx.Search(ctx, []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInProcessIndexUpsertReplaces(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, idx.Upsert(ctx, storedRecord("a", []float32{1, 0}, models.OutcomeFailed, now)))
	require.NoError(t, idx.Upsert(ctx, storedRecord("a", []float32{1, 0}, models.OutcomeResolved, now)))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := idx.Search(ctx, []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.OutcomeResolved, got[0].Record.Payload.Outcome)
}

func TestInProcessIndexStats(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	resolved := storedRecord("r1", []float32{1, 0}, models.OutcomeResolved, now)
	resolved.Payload.Severity = "critical"
	resolved.Payload.DurationSeconds = 60
	resolved.Payload.LLMCostUSD = 0.05
	require.NoError(t, idx.Upsert(ctx, resolved))

	failed := storedRecord("f1", []float32{0, 1}, models.OutcomeFailed, now)
	failed.Payload.DurationSeconds = 120
	failed.Payload.LLMCostUSD = 0.03
	require.NoError(t, idx.Upsert(ctx, failed))

	noop := storedRecord("n1", []float32{0.5, 0.5}, models.OutcomeNoop, now)
	noop.Payload.DurationSeconds = 6
	noop.Payload.LLMCostUSD = 0.01
	require.NoError(t, idx.Upsert(ctx, noop))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Count)
	// noop is not terminal-failure material: rate = resolved / (resolved+failed+escalated).
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 62.0, stats.AvgDurationSeconds, 1e-9)
	assert.InDelta(t, 0.09, stats.TotalCostUSD, 1e-9)
	assert.Equal(t, map[string]int{"critical": 1, "warning": 2}, stats.BySeverity)
}

func TestInProcessIndexEmpty(t *testing.T) {
	idx := NewInProcessIndex()
	ctx := context.Background()

	got, err := idx.Search(ctx, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Zero(t, stats.SuccessRate)

	assert.NoError(t, idx.Health(ctx))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
