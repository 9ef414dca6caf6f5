// Package memory is the vector-backed store of closed incidents. Incidents
// are embedded once at closure and retrieved by similarity when the Analyst
// wants historical context for a new alert.
package memory

import (
	"context"

	"github.com/homelab-ops/warden/pkg/models"
)

// Index is the vector store behind the memory service. Implementations:
// pgvector (production) and the in-process scan (dev profile, tests).
type Index interface {
	// Upsert writes one record, replacing any record with the same id.
	Upsert(ctx context.Context, rec *models.MemoryRecord) error

	// Search returns up to k records scoring at least minScore against the
	// query vector, ordered score descending then closedAt descending.
	Search(ctx context.Context, query []float32, k int, minScore float64) ([]models.ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Stats aggregates the stored population.
	Stats(ctx context.Context) (*models.MemoryStats, error)

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error
}
