package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/homelab-ops/warden/pkg/models"
)

// InProcessIndex is the map-backed index for the dev profile and tests.
// Search is an exact cosine scan; fine for the few hundred incidents a
// homelab accumulates, no good beyond that.
type InProcessIndex struct {
	mu      sync.RWMutex
	records map[string]models.MemoryRecord
}

var _ Index = (*InProcessIndex)(nil)

// NewInProcessIndex returns an empty index.
func NewInProcessIndex() *InProcessIndex {
	return &InProcessIndex{records: make(map[string]models.MemoryRecord)}
}

// Upsert stores a copy of the record keyed by id.
func (m *InProcessIndex) Upsert(_ context.Context, rec *models.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	stored.Embedding = append([]float32(nil), rec.Embedding...)
	m.records[rec.ID] = stored
	return nil
}

// Search scans every record, scoring with cosine similarity.
func (m *InProcessIndex) Search(_ context.Context, query []float32, k int, minScore float64) ([]models.ScoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ScoredRecord
	for _, rec := range m.records {
		score := cosineSimilarity(query, rec.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, models.ScoredRecord{Record: rec, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.Payload.ClosedAt.After(out[j].Record.Payload.ClosedAt)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *InProcessIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Stats aggregates over the full map.
func (m *InProcessIndex) Stats(_ context.Context) (*models.MemoryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.MemoryStats{BySeverity: make(map[string]int)}
	var resolved, terminal int
	var totalDuration float64
	for _, rec := range m.records {
		stats.Count++
		stats.BySeverity[rec.Payload.Severity]++
		stats.TotalCostUSD += rec.Payload.LLMCostUSD
		totalDuration += rec.Payload.DurationSeconds
		switch rec.Payload.Outcome {
		case models.OutcomeResolved:
			resolved++
			terminal++
		case models.OutcomeFailed, models.OutcomeEscalated:
			terminal++
		}
	}
	if stats.Count > 0 {
		stats.AvgDurationSeconds = totalDuration / float64(stats.Count)
	}
	if terminal > 0 {
		stats.SuccessRate = float64(resolved) / float64(terminal)
	}
	return stats, nil
}

// Health always succeeds; the map cannot fail.
func (m *InProcessIndex) Health(_ context.Context) error {
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
