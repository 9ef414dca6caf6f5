package database

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/homelab-ops/warden/pkg/config"
)

// newTestClient creates a migrated test database client.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container that must have pgvector available.
// In local dev: spins up a pgvector-enabled testcontainer.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	var connStr string
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		connStr = ciDatabaseURL
	} else {
		t.Log("Using testcontainers for PostgreSQL with pgvector")
		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg17",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, RunMigrations(db, "test"))

	client := NewClientFromDB(db)
	t.Cleanup(func() {
		// Reset so repeated runs against CI_DATABASE_URL start clean.
		_, _ = db.ExecContext(context.Background(),
			"DROP TABLE IF EXISTS incidents, schema_migrations CASCADE")
		_ = client.Close()
	})
	return client
}

func TestClientConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestMigrationsCreateVectorSchema(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.VerifyVectorSchema(ctx, 1536))

	err := client.VerifyVectorSchema(ctx, 768)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector(1536)")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	client := newTestClient(t)

	// A second run must see ErrNoChange and succeed.
	require.NoError(t, RunMigrations(client.DB(), "test"))
}

func TestVectorRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// A three-valued prefix keeps the literal readable; the rest pads to
	// the declared column width.
	embedding := "[1,0,0"
	for i := 3; i < 1536; i++ {
		embedding += ",0"
	}
	embedding += "]"

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO incidents (id, fingerprint, severity, outcome, payload, embedding, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, now())`,
		"inc-1", "fp-1", "critical", "resolved", `{"fingerprint":"fp-1"}`, embedding)
	require.NoError(t, err)

	var score float64
	err = client.DB().QueryRowContext(ctx,
		`SELECT 1 - (embedding <=> $1::vector) FROM incidents WHERE id = $2`,
		embedding, "inc-1").Scan(&score)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6, "identical vectors have cosine similarity 1")
}

func TestHealthStatusJSONMilliseconds(t *testing.T) {
	client := newTestClient(t)

	health, err := client.Health(context.Background())
	require.NoError(t, err)

	jsonBytes, err := json.Marshal(health)
	require.NoError(t, err)

	var jsonData map[string]any
	require.NoError(t, json.Unmarshal(jsonBytes, &jsonData))

	responseTime, ok := jsonData["response_time_ms"].(float64)
	require.True(t, ok, "response_time_ms should be a number")
	assert.GreaterOrEqual(t, responseTime, float64(0))
	assert.Less(t, responseTime, float64(1000000),
		"response_time_ms should be in milliseconds, not nanoseconds")
}

func TestFromAppConfig(t *testing.T) {
	t.Run("applies pool defaults", func(t *testing.T) {
		cfg := FromAppConfig(&config.DatabaseConfig{
			Host: "db.local", User: "warden", Password: "secret", Name: "warden",
		})
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
		assert.Equal(t, defaultMaxIdleConns, cfg.MaxIdleConns)
		assert.Equal(t, defaultConnMaxLifetime, cfg.ConnMaxLifetime)
	})

	t.Run("explicit values win", func(t *testing.T) {
		cfg := FromAppConfig(&config.DatabaseConfig{
			Host: "db.local", Port: 5433, SSLMode: "require",
			MaxOpenConns: 50, MaxIdleConns: 20,
			ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 10 * time.Minute,
		})
		assert.Equal(t, 5433, cfg.Port)
		assert.Equal(t, "require", cfg.SSLMode)
		assert.Equal(t, 50, cfg.MaxOpenConns)
		assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	})
}
