package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mwaldt/radscribe/internal/export"
	"github.com/mwaldt/radscribe/internal/report"
	"github.com/mwaldt/radscribe/internal/store"
)

// handleListReports serves GET /api/reports. Without query parameters it
// lists everything; search, modality, startDate, and endDate filter the
// result conjunctively.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q, err := reportQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := s.store.SearchReports(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, reports)
}

// reportQuery builds the store filter from list/search query parameters.
// The canonical parameter names are search, modality, startDate, and
// endDate; the /api/reports/search alias also accepts patientName, from,
// and to.
func reportQuery(r *http.Request) (store.SearchQuery, error) {
	vals := r.URL.Query()
	pick := func(names ...string) string {
		for _, n := range names {
			if v := vals.Get(n); v != "" {
				return v
			}
		}
		return ""
	}

	q := store.SearchQuery{
		PatientName: pick("search", "patientName"),
		Modality:    vals.Get("modality"),
	}
	if v := pick("startDate", "from"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return q, fmt.Errorf("Invalid start date %q", v)
		}
		q.From = t
	}
	if v := pick("endDate", "to"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return q, fmt.Errorf("Invalid end date %q", v)
		}
		q.To = t
	}
	return q, nil
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var rep report.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid report data")
		return
	}
	if rep.PatientName == "" || rep.Modality == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid report data")
		return
	}

	created, err := s.store.CreateReport(r.Context(), rep)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.metrics.RecordReportCreated(r.Context(), created.Modality)
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "Report not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	var u report.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid report data")
		return
	}

	updated, err := s.store.UpdateReport(r.Context(), r.PathValue("id"), u)
	if err != nil {
		s.writeStoreError(w, err, "Report not found")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteReport(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err, "Report not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearchReports is an alias for the filtered report list.
func (s *Server) handleSearchReports(w http.ResponseWriter, r *http.Request) {
	s.handleListReports(w, r)
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain date used
// as an upper bound covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// handleSimilarReports serves semantic similarity search. Only available
// when the configured backend maintains a vector index (postgres with an
// embeddings provider).
func (s *Server) handleSimilarReports(w http.ResponseWriter, r *http.Request) {
	searcher, ok := s.store.(store.SimilaritySearcher)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, "Similarity search is not supported by the configured storage backend")
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit %q", v))
			return
		}
		limit = n
	}

	reports, err := searcher.FindSimilar(r.Context(), q, limit)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = "text"
	}
	renderer, ok := s.renderers[name]
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown export format %q", name))
		return
	}

	rep, err := s.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "Report not found")
		return
	}

	data, err := renderer.Render(export.Compose(&rep))
	if err != nil {
		s.log.Error("render export failed", "format", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to export report")
		return
	}

	w.Header().Set("Content-Type", renderer.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(&rep, renderer)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("write export body failed", "error", err)
	}
}
