package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/models"
)

func testEntry(incidentID, tool string) models.AuditEntry {
	return models.AuditEntry{
		IncidentID: incidentID,
		ApprovalID: "apr-1",
		Tool:       tool,
		Args:       map[string]any{"target": "lxc-101"},
		Outcome:    string(models.DecisionAutoApproved),
		Approver:   models.ApproverAutoNonCritical,
	}
}

func TestAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := log.Append(ctx, testEntry(fmt.Sprintf("inc-%d", i), "webhook_trigger"))
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	count, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestAppendAssignsChainFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	require.NoError(t, err)

	// Caller-set chain fields are overwritten
	entry := testEntry("inc-1", "webhook_trigger")
	entry.Seq = 999
	entry.Hash = "bogus"
	require.NoError(t, log.Append(context.Background(), entry))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"seq":1`)
	assert.NotContains(t, line, "bogus")
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, testEntry("inc-1", "webhook_trigger")))
	require.NoError(t, log.Append(ctx, testEntry("inc-2", "webhook_trigger")))
	require.NoError(t, log.Close())

	log, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, testEntry("inc-3", "webhook_trigger")))
	require.NoError(t, log.Close())

	count, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	log, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, testEntry(fmt.Sprintf("inc-%d", i), "webhook_trigger")))
	}
	require.NoError(t, log.Close())

	// Rewrite the middle entry's tool name without recomputing hashes
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "webhook_trigger", "something_else", 2)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	count, err := Verify(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.Less(t, count, 3)
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	log, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, testEntry(fmt.Sprintf("inc-%d", i), "webhook_trigger")))
	}
	require.NoError(t, log.Close())

	// Drop the middle line
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	shortened := lines[0] + "\n" + lines[2] + "\n"
	require.NoError(t, os.WriteFile(path, []byte(shortened), 0o644))

	_, err = Verify(path)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestVerifyMissingFile(t *testing.T) {
	count, err := Verify(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	err = log.Append(context.Background(), testEntry("inc-1", "webhook_trigger"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAppendConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			err := log.Append(context.Background(), testEntry(fmt.Sprintf("inc-%d", n), "webhook_trigger"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, log.Close())

	count, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, writers, count)
}

func TestAppendSetsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	require.NoError(t, err)

	before := time.Now().UTC()
	require.NoError(t, log.Append(context.Background(), testEntry("inc-1", "webhook_trigger")))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), before.Format("2006-01-02"))
}
