package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/incident"
	"github.com/homelab-ops/warden/pkg/models"
)

func seededStore(t *testing.T, n int) *incident.Store {
	t.Helper()
	store := incident.NewStore(0)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		store.Put(&models.Incident{
			ID:          fmt.Sprintf("inc-%02d", i),
			Fingerprint: fmt.Sprintf("fp-%02d", i),
			ReceivedAt:  base.Add(time.Duration(i) * time.Minute),
			Status:      models.StatusResolved,
			Severity:    "warning",
			Alert:       models.Alert{Fingerprint: fmt.Sprintf("fp-%02d", i), Labels: map[string]string{"alertname": "DiskFull"}},
		})
	}
	return store
}

func TestListIncidentsNewestFirst(t *testing.T) {
	s := newTestServer(t, serverOptions{store: seededStore(t, 3)})

	var resp IncidentListResponse
	rec := getJSON(t, s, "/incidents", &resp)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "inc-02", resp.Items[0].ID)
	assert.Equal(t, "inc-00", resp.Items[2].ID)
	assert.Empty(t, resp.NextCursor)
}

func TestListIncidentsPagination(t *testing.T) {
	s := newTestServer(t, serverOptions{store: seededStore(t, 5)})

	var first IncidentListResponse
	rec := getJSON(t, s, "/incidents?limit=2", &first)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	var second IncidentListResponse
	rec = getJSON(t, s, "/incidents?limit=2&cursor="+first.NextCursor, &second)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, second.Items, 2)

	// No overlap across pages.
	assert.NotEqual(t, first.Items[1].ID, second.Items[0].ID)
	assert.Equal(t, "inc-02", second.Items[0].ID)
}

func TestListIncidentsBadLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{store: seededStore(t, 1)})

	for _, limit := range []string{"abc", "-1", "0"} {
		rec := getJSON(t, s, "/incidents?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestListIncidentsBadCursor(t *testing.T) {
	s := newTestServer(t, serverOptions{store: seededStore(t, 1)})

	rec := getJSON(t, s, "/incidents?cursor=@@not-a-cursor@@", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListIncidentsEmptyStore(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	var resp IncidentListResponse
	rec := getJSON(t, s, "/incidents", &resp)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Items)
}
