package builtin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

func scoredRecord(name string, score float64, summaries map[string]string) models.ScoredRecord {
	return models.ScoredRecord{
		Score: score,
		Record: models.MemoryRecord{
			ID: "inc-" + name,
			Payload: models.MemoryPayload{
				Fingerprint:    "fp-" + name,
				Severity:       "warning",
				Labels:         map[string]string{"alertname": name},
				StageSummaries: summaries,
				Outcome:        models.OutcomeResolved,
				ToolsUsed:      []string{"webhook_trigger"},
				ClosedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestMemorySimilarFormatsMatches(t *testing.T) {
	searcher := &fakeSearcher{records: []models.ScoredRecord{
		scoredRecord("DiskFull", 0.91, map[string]string{
			string(models.StageHealer): "Rotated logs; disk back to 40%.",
		}),
		scoredRecord("HighLoad", 0.62, map[string]string{
			string(models.StageAnalyst): "Backup job saturated the CPU.",
		}),
	}}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(MemorySimilar(searcher)))

	res := reg.Invoke(context.Background(), testExecContext(), "memory_similar",
		map[string]any{"query": "disk filling up on nas"})

	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "disk filling up on nas", searcher.gotQuery)
	assert.Contains(t, res.Content, "2 similar past incident(s)")
	assert.Contains(t, res.Content, "DiskFull (similarity 0.91)")
	assert.Contains(t, res.Content, "outcome=resolved")
	assert.Contains(t, res.Content, "fix: Rotated logs; disk back to 40%.")
	assert.Contains(t, res.Content, "analysis: Backup job saturated the CPU.")
	assert.Contains(t, res.Content, "tools=webhook_trigger")
}

func TestMemorySimilarNoMatches(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(MemorySimilar(&fakeSearcher{})))

	res := reg.Invoke(context.Background(), testExecContext(), "memory_similar",
		map[string]any{"query": "never seen before"})

	require.False(t, res.IsError)
	assert.Equal(t, "no similar past incidents found", res.Content)
}

func TestMemorySimilarPassesK(t *testing.T) {
	searcher := &fakeSearcher{}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(MemorySimilar(searcher)))

	reg.Invoke(context.Background(), testExecContext(), "memory_similar",
		map[string]any{"query": "disk", "k": float64(5)})

	assert.Equal(t, 5, searcher.gotK)
}

func TestMemorySimilarEmptyQuery(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(MemorySimilar(&fakeSearcher{})))

	res := reg.Invoke(context.Background(), testExecContext(), "memory_similar",
		map[string]any{"query": "   "})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "query must not be empty")
}

func TestMemorySimilarSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index offline")}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(MemorySimilar(searcher)))

	res := reg.Invoke(context.Background(), testExecContext(), "memory_similar",
		map[string]any{"query": "disk"})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "memory search")
	assert.Contains(t, res.Content, "index offline")
}
