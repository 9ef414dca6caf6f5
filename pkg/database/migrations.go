package database

import (
	"context"
	"fmt"
)

// VerifyVectorSchema checks that the vector extension is installed and the
// incidents embedding column width matches the configured embedder. A
// mismatch here would otherwise surface as a failed insert on the first
// incident closure, hours after startup.
func (c *Client) VerifyVectorSchema(ctx context.Context, dimension int) error {
	var installed bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&installed)
	if err != nil {
		return fmt.Errorf("failed to check vector extension: %w", err)
	}
	if !installed {
		return fmt.Errorf("pgvector extension is not installed")
	}

	// pgvector stores the declared dimension in atttypmod.
	var typmod int
	err = c.db.QueryRowContext(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'incidents'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("failed to read embedding column: %w", err)
	}
	if typmod != dimension {
		return fmt.Errorf("embedding column is vector(%d), embedder produces %d dimensions",
			typmod, dimension)
	}
	return nil
}
