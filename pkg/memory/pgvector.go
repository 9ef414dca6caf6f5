package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/homelab-ops/warden/pkg/database"
	"github.com/homelab-ops/warden/pkg/models"
)

// PgvectorIndex stores incident records in Postgres with the pgvector
// extension. Similarity is cosine: `1 - (embedding <=> query)`, which the
// hnsw index on the incidents table serves directly.
type PgvectorIndex struct {
	db        *sql.DB
	dimension int
}

var _ Index = (*PgvectorIndex)(nil)

// NewPgvectorIndex wraps an existing database client. Migrations have
// already run by the time the client exists; this only verifies the schema
// dimension agrees with the embedder.
func NewPgvectorIndex(ctx context.Context, client *database.Client, dimension int) (*PgvectorIndex, error) {
	if err := client.VerifyVectorSchema(ctx, dimension); err != nil {
		return nil, err
	}
	return &PgvectorIndex{db: client.DB(), dimension: dimension}, nil
}

// Upsert writes one record. Idempotent on id: closing the same incident
// twice (retry after a failed write) replaces rather than duplicates.
func (p *PgvectorIndex) Upsert(ctx context.Context, rec *models.MemoryRecord) error {
	if len(rec.Embedding) != p.dimension {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(rec.Embedding), p.dimension)
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO incidents (id, fingerprint, severity, outcome, duration_seconds, cost_usd, payload, embedding, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9)
		ON CONFLICT (id) DO UPDATE SET
			fingerprint      = EXCLUDED.fingerprint,
			severity         = EXCLUDED.severity,
			outcome          = EXCLUDED.outcome,
			duration_seconds = EXCLUDED.duration_seconds,
			cost_usd         = EXCLUDED.cost_usd,
			payload          = EXCLUDED.payload,
			embedding        = EXCLUDED.embedding,
			closed_at        = EXCLUDED.closed_at`,
		rec.ID,
		rec.Payload.Fingerprint,
		rec.Payload.Severity,
		string(rec.Payload.Outcome),
		rec.Payload.DurationSeconds,
		rec.Payload.LLMCostUSD,
		payload,
		encodeVector(rec.Embedding),
		rec.Payload.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert memory record: %w", err)
	}
	return nil
}

// Search runs the k-NN query. Filtering on minScore happens in SQL so the
// hnsw scan stops early; ties on score resolve to the most recent closure.
func (p *PgvectorIndex) Search(ctx context.Context, query []float32, k int, minScore float64) ([]models.ScoredRecord, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(query), p.dimension)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payload, 1 - (embedding <=> $1::vector) AS score
		FROM incidents
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY score DESC, closed_at DESC
		LIMIT $3`,
		encodeVector(query), minScore, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
			score   float64
		)
		if err := rows.Scan(&id, &payload, &score); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		rec := models.MemoryRecord{ID: id}
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", id, err)
		}
		out = append(out, models.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (p *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memory records: %w", err)
	}
	return count, nil
}

// Stats aggregates the stored population in one round trip per facet.
func (p *PgvectorIndex) Stats(ctx context.Context) (*models.MemoryStats, error) {
	stats := &models.MemoryStats{BySeverity: make(map[string]int)}

	var resolved, terminal int
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'resolved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome IN ('resolved', 'failed', 'escalated') THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_seconds), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM incidents`).
		Scan(&stats.Count, &resolved, &terminal, &stats.AvgDurationSeconds, &stats.TotalCostUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate memory stats: %w", err)
	}
	if terminal > 0 {
		stats.SuccessRate = float64(resolved) / float64(terminal)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate severity stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity row: %w", err)
		}
		stats.BySeverity[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read severity rows: %w", err)
	}
	return stats, nil
}

// Health pings the database.
func (p *PgvectorIndex) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// encodeVector renders a vector in pgvector text format: [0.1,0.2,...].
func encodeVector(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
