// Package incident keeps the recent-incident ring the browse endpoint reads.
// Incidents live in memory only; the durable record of a closed incident is
// its vector memory entry and the audit trail.
package incident

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/homelab-ops/warden/pkg/models"
)

// DefaultCapacity bounds how many incidents the store retains. Older
// terminal incidents are evicted first; in-flight incidents are never
// evicted.
const DefaultCapacity = 512

// DefaultPageSize is the /incidents page size when the request omits limit.
const DefaultPageSize = 20

// MaxPageSize caps the /incidents page size.
const MaxPageSize = 100

// Store holds recent incidents keyed by id. Writers are the pipeline
// workers; readers are the API handlers. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	byID     map[string]*models.Incident

	// order holds ids sorted by sequence of insertion, oldest first.
	// Eviction walks from the front, skipping non-terminal incidents.
	order []string
}

// NewStore creates a store retaining up to capacity incidents. A
// non-positive capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]*models.Incident),
	}
}

// Put inserts or replaces the incident with a private copy. The pipeline
// calls this on creation and again on every status transition, so readers
// always observe a consistent snapshot.
func (s *Store) Put(inc *models.Incident) {
	cp := inc.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.byID[cp.ID] = cp

	s.evictLocked()
}

// Get returns a copy of the incident by id.
func (s *Store) Get(id string) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return inc.Clone(), true
}

// Len returns the number of retained incidents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Page is one page of incident summaries, newest first.
type Page struct {
	Items      []models.IncidentSummary
	NextCursor string
}

// List returns a page of summaries ordered by ReceivedAt descending (ties
// broken by id so pagination is stable). The cursor is opaque to callers;
// an empty cursor starts from the newest incident.
func (s *Store) List(limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := make([]*models.Incident, 0, len(s.byID))
	for _, inc := range s.byID {
		all = append(all, inc)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].ReceivedAt.Equal(all[j].ReceivedAt) {
			return all[i].ReceivedAt.After(all[j].ReceivedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if after != nil {
		for i, inc := range all {
			if inc.ReceivedAt.UnixNano() == after.receivedNanos && inc.ID == after.id {
				start = i + 1
				break
			}
			// The cursor incident may have been evicted; resume at the first
			// incident strictly older than it.
			if inc.ReceivedAt.UnixNano() < after.receivedNanos {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	page := &Page{Items: make([]models.IncidentSummary, 0, end-start)}
	for _, inc := range all[start:end] {
		page.Items = append(page.Items, inc.Summarize())
	}
	if end < len(all) {
		last := all[end-1]
		page.NextCursor = encodeCursor(last.ReceivedAt.UnixNano(), last.ID)
	}
	return page, nil
}

// evictLocked drops the oldest terminal incidents until the store fits its
// capacity. Requires s.mu held for writing.
func (s *Store) evictLocked() {
	if len(s.byID) <= s.capacity {
		return
	}

	kept := s.order[:0]
	excess := len(s.byID) - s.capacity
	for _, id := range s.order {
		inc, ok := s.byID[id]
		if !ok {
			continue
		}
		if excess > 0 && inc.Status.IsTerminal() {
			delete(s.byID, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// cursor is the decoded pagination position.
type cursor struct {
	receivedNanos int64
	id            string
}

// encodeCursor packs (receivedAt, id) into an opaque base64 token.
func encodeCursor(receivedNanos int64, id string) string {
	raw := fmt.Sprintf("%d|%s", receivedNanos, id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks a cursor token. An empty token is a nil cursor;
// garbage is an error so callers can answer 400.
func decodeCursor(token string) (*cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor: malformed token")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &cursor{receivedNanos: nanos, id: parts[1]}, nil
}

