package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldt/radscribe/internal/report"
)

// MemStore is an in-memory Store for development and tests. All data is
// lost on process exit.
type MemStore struct {
	mu       sync.RWMutex
	reports  map[string]*report.Report
	settings map[string]report.Settings
	seq      map[string]uint64
	nextSeq  uint64

	now func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		reports:  make(map[string]*report.Report),
		settings: make(map[string]report.Settings),
		seq:      make(map[string]uint64),
		now:      time.Now,
	}
}

// CreateReport implements Store.
func (s *MemStore) CreateReport(_ context.Context, r report.Report) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	r.ReportDate = s.now().UTC()

	stored := r
	s.reports[stored.ID] = &stored
	s.nextSeq++
	s.seq[stored.ID] = s.nextSeq
	return cloneReport(&stored), nil
}

// GetReport implements Store.
func (s *MemStore) GetReport(_ context.Context, id string) (report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return report.Report{}, fmt.Errorf("memstore: report %q: %w", id, ErrNotFound)
	}
	return cloneReport(r), nil
}

// ListReports implements Store.
func (s *MemStore) ListReports(ctx context.Context) ([]report.Report, error) {
	return s.SearchReports(ctx, SearchQuery{})
}

// SearchReports implements Store.
func (s *MemStore) SearchReports(_ context.Context, q SearchQuery) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]report.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if q.Matches(r) {
			out = append(out, cloneReport(r))
		}
	}

	// Newest first; equal timestamps keep insertion order, first inserted
	// first, so ordering stays deterministic.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

// UpsertReport implements Store. Replacing an existing report keeps its
// insertion sequence number so ordering among equal dates is unchanged.
func (s *MemStore) UpsertReport(_ context.Context, r report.Report) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReportDate.IsZero() {
		r.ReportDate = s.now().UTC()
	}

	stored := r
	if _, ok := s.reports[stored.ID]; !ok {
		s.nextSeq++
		s.seq[stored.ID] = s.nextSeq
	}
	s.reports[stored.ID] = &stored
	return cloneReport(&stored), nil
}

// UpdateReport implements Store.
func (s *MemStore) UpdateReport(_ context.Context, id string, u report.Update) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return report.Report{}, fmt.Errorf("memstore: report %q: %w", id, ErrNotFound)
	}
	u.Apply(r)
	return cloneReport(r), nil
}

// DeleteReport implements Store.
func (s *MemStore) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return fmt.Errorf("memstore: report %q: %w", id, ErrNotFound)
	}
	delete(s.reports, id)
	delete(s.seq, id)
	return nil
}

// GetSettings implements Store.
func (s *MemStore) GetSettings(_ context.Context, userID string) (report.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[userID]
	if !ok {
		return report.Settings{}, fmt.Errorf("memstore: settings for %q: %w", userID, ErrNotFound)
	}
	return st, nil
}

// SaveSettings implements Store.
func (s *MemStore) SaveSettings(_ context.Context, st report.Settings) (report.Settings, error) {
	if err := st.Validate(); err != nil {
		return report.Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.settings[st.UserID]; ok {
		st.ID = prev.ID
	} else {
		st.ID = uuid.NewString()
	}
	s.settings[st.UserID] = st
	return st, nil
}

// cloneReport copies r including its metadata map so callers cannot
// mutate stored state.
func cloneReport(r *report.Report) report.Report {
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
