// Package store defines the report repository abstraction and its
// in-memory and file-backed implementations. The postgres subpackage
// provides the durable backend with semantic similarity search.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mwaldt/radscribe/internal/report"
)

// ErrNotFound is returned when a report or settings record does not
// exist. Callers match it with errors.Is.
var ErrNotFound = errors.New("store: not found")

// SearchQuery holds the report search filters. Zero-valued fields are
// inactive; active filters combine conjunctively.
type SearchQuery struct {
	// PatientName matches case-insensitively as a substring.
	PatientName string

	// Modality matches exactly.
	Modality string

	// From and To bound ReportDate inclusively. Zero values disable the
	// respective bound.
	From time.Time
	To   time.Time
}

// Active reports whether any filter is set. An inactive query matches
// every report.
func (q SearchQuery) Active() bool {
	return q.PatientName != "" || q.Modality != "" || !q.From.IsZero() || !q.To.IsZero()
}

// Matches reports whether r satisfies every active filter.
func (q SearchQuery) Matches(r *report.Report) bool {
	if q.PatientName != "" && !containsFold(r.PatientName, q.PatientName) {
		return false
	}
	if q.Modality != "" && r.Modality != q.Modality {
		return false
	}
	if !q.From.IsZero() && r.ReportDate.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.ReportDate.After(q.To) {
		return false
	}
	return true
}

// containsFold reports whether s contains substr under ASCII-insensitive
// Unicode case folding.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Store is the report repository. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateReport persists a new report. The store assigns ID and
	// ReportDate; values supplied by the caller for those fields are
	// ignored. The stored report is returned.
	CreateReport(ctx context.Context, r report.Report) (report.Report, error)

	// GetReport returns the report with the given ID, or ErrNotFound.
	GetReport(ctx context.Context, id string) (report.Report, error)

	// ListReports returns all reports sorted by ReportDate descending.
	ListReports(ctx context.Context) ([]report.Report, error)

	// SearchReports returns the reports matching q, sorted by ReportDate
	// descending. An inactive query behaves like ListReports.
	SearchReports(ctx context.Context, q SearchQuery) ([]report.Report, error)

	// UpdateReport merges u into the stored report and returns the
	// result, or ErrNotFound. ID and ReportDate are never changed.
	UpdateReport(ctx context.Context, id string, u report.Update) (report.Report, error)

	// UpsertReport inserts r when its ID is unknown (or empty, in which
	// case one is assigned) and replaces the stored report wholesale
	// otherwise. A replace keeps the report's position in the
	// insertion-order tie-break; a zero ReportDate is filled in on
	// insert. The stored report is returned.
	UpsertReport(ctx context.Context, r report.Report) (report.Report, error)

	// DeleteReport removes the report, or returns ErrNotFound.
	DeleteReport(ctx context.Context, id string) error

	// GetSettings returns the settings for userID, or ErrNotFound when no
	// record has been saved yet.
	GetSettings(ctx context.Context, userID string) (report.Settings, error)

	// SaveSettings upserts the settings record keyed by s.UserID and
	// returns the stored record.
	SaveSettings(ctx context.Context, s report.Settings) (report.Settings, error)
}

// SimilaritySearcher is implemented by backends that maintain a vector
// index over report content (see the postgres subpackage).
type SimilaritySearcher interface {
	// FindSimilar returns up to limit reports ranked by semantic
	// similarity to the query text, most similar first.
	FindSimilar(ctx context.Context, query string, limit int) ([]report.Report, error)
}
