package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
)

// Service composes an embedder and an index into the incident memory the
// pipeline and the Analyst stage talk to. Reads are non-fatal: a failed
// search degrades to "no historical context" rather than failing the stage.
type Service struct {
	embedder     Embedder
	index        Index
	topK         int
	minScore     float64
	queryTimeout time.Duration
	metrics      *metrics.Metrics
}

// NewService wires the memory service from config.
func NewService(embedder Embedder, index Index, cfg *config.MemoryConfig, m *metrics.Metrics) *Service {
	return &Service{
		embedder:     embedder,
		index:        index,
		topK:         cfg.TopK,
		minScore:     cfg.MinScore,
		queryTimeout: cfg.QueryTimeout,
		metrics:      m,
	}
}

// Remember writes one record for a terminal incident. The upsert is retried
// once; the returned error is the persistent failure, which callers log and
// otherwise ignore so a broken index never blocks incident closure.
func (s *Service) Remember(ctx context.Context, inc *models.Incident) error {
	if inc.ClosedAt == nil {
		return fmt.Errorf("incident %s is not terminal", inc.ID)
	}

	embedding, err := s.embedder.Embed(ctx, inc.Alert.Description())
	if err != nil {
		return fmt.Errorf("failed to embed incident %s: %w", inc.ID, err)
	}
	rec := recordFromIncident(inc)
	rec.Embedding = embedding

	err = s.upsert(ctx, rec)
	if err != nil {
		slog.Warn("Memory upsert failed, retrying once",
			"incident_id", inc.ID,
			"error", err)
		err = s.upsert(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("failed to store incident %s in memory: %w", inc.ID, err)
	}

	if s.metrics != nil {
		if count, err := s.index.Count(ctx); err == nil {
			s.metrics.MemoryRecords.Set(float64(count))
		}
	}
	slog.Debug("Incident stored in memory",
		"incident_id", inc.ID,
		"outcome", inc.Outcome)
	return nil
}

// Similar returns the closest stored incidents for an alert, best first.
// k <= 0 uses the configured topK. Failures are soft: the caller gets an
// empty slice and a non-nil error it may surface as a warning.
func (s *Service) Similar(ctx context.Context, alert models.Alert, k int) ([]models.ScoredRecord, error) {
	return s.SimilarText(ctx, alert.Description(), k)
}

// SimilarText runs the same search for a free-text query. The memory_similar
// tool uses it so the Analyst can search beyond the triggering alert's own
// description.
func (s *Service) SimilarText(ctx context.Context, query string, k int) ([]models.ScoredRecord, error) {
	if k <= 0 {
		k = s.topK
	}

	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	records, err := s.index.Search(ctx, embedding, k, s.minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	return records, nil
}

// Stats aggregates the stored incident population.
func (s *Service) Stats(ctx context.Context) (*models.MemoryStats, error) {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	return s.index.Stats(ctx)
}

// Health reports whether the index is reachable.
func (s *Service) Health(ctx context.Context) error {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	return s.index.Health(ctx)
}

// Count returns the number of stored records.
func (s *Service) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	return s.index.Count(ctx)
}

func (s *Service) upsert(ctx context.Context, rec *models.MemoryRecord) error {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	return s.index.Upsert(ctx, rec)
}

func (s *Service) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// recordFromIncident projects a terminal incident into its memory form.
func recordFromIncident(inc *models.Incident) *models.MemoryRecord {
	summaries := make(map[string]string, len(inc.StageOutputs))
	for _, out := range inc.StageOutputs {
		summaries[string(out.Stage)] = out.Verdict
	}
	toolNames := make([]string, 0, len(inc.ToolsUsed))
	for _, inv := range inc.ToolsUsed {
		toolNames = append(toolNames, inv.Name)
	}

	return &models.MemoryRecord{
		ID: inc.ID,
		Payload: models.MemoryPayload{
			Fingerprint:     inc.Fingerprint,
			Severity:        inc.Severity,
			Labels:          inc.Alert.Labels,
			StageSummaries:  summaries,
			Outcome:         inc.Outcome,
			ToolsUsed:       toolNames,
			DurationSeconds: inc.Duration().Seconds(),
			LLMCostUSD:      inc.LLMCost.USD,
			ClosedAt:        *inc.ClosedAt,
		},
	}
}
