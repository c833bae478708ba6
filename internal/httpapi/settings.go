package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mwaldt/radscribe/internal/format"
	"github.com/mwaldt/radscribe/internal/observe"
	"github.com/mwaldt/radscribe/internal/report"
	"github.com/mwaldt/radscribe/internal/store"
)

// handleGetSettings serves the stored settings for a user, falling back
// to the defaults when the user has never saved any.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	settings, err := s.store.GetSettings(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusOK, report.DefaultSettings(userID))
	case err != nil:
		s.writeStoreError(w, err, "")
	default:
		s.writeJSON(w, http.StatusOK, settings)
	}
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings report.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid settings data")
		return
	}
	if err := settings.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.store.SaveSettings(r.Context(), settings)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

// formatRequest is the body of POST /api/format-report. The credential is
// resolved from an explicit apiKey or, failing that, the user's stored
// settings. A reportId serialises formatting per report: while one call
// is in flight, further calls for the same report are rejected with 409.
type formatRequest struct {
	Transcript         string `json:"transcript"`
	Modality           string `json:"modality"`
	BodyPart           string `json:"bodyPart"`
	ClinicalIndication string `json:"clinicalIndication"`
	UserID             string `json:"userId"`
	APIKey             string `json:"apiKey"`
	ReportID           string `json:"reportId"`
}

// acquireFormat marks a report as having a formatting call in flight.
// Returns false when one already is.
func (s *Server) acquireFormat(reportID string) bool {
	if reportID == "" {
		return true
	}
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	if _, busy := s.formatBusy[reportID]; busy {
		return false
	}
	s.formatBusy[reportID] = struct{}{}
	return true
}

func (s *Server) releaseFormat(reportID string) {
	if reportID == "" {
		return
	}
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	delete(s.formatBusy, reportID)
}

func (s *Server) handleFormatReport(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid format request")
		return
	}

	if !s.acquireFormat(req.ReportID) {
		s.writeError(w, http.StatusConflict, "Formatting already in progress for this report")
		return
	}
	defer s.releaseFormat(req.ReportID)

	apiKey := req.APIKey
	if apiKey == "" && req.UserID != "" {
		settings, err := s.store.GetSettings(r.Context(), req.UserID)
		if err == nil {
			apiKey = settings.APIKey
		} else if !errors.Is(err, store.ErrNotFound) {
			s.writeStoreError(w, err, "")
			return
		}
	}

	start := time.Now()
	sections, err := s.gateway.Format(r.Context(), format.Request{
		Transcript: req.Transcript,
		Modality:   req.Modality,
		BodyPart:   req.BodyPart,
		Indication: req.ClinicalIndication,
		APIKey:     apiKey,
	})
	s.metrics.FormatDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", statusLabel(err))))
	s.metrics.RecordProviderRequest(r.Context(), "llm", "format", statusLabel(err))
	if errors.Is(err, format.ErrUpstream) {
		s.metrics.RecordProviderError(r.Context(), "llm", "upstream")
	}

	switch {
	case errors.Is(err, format.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error("format report failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to format report")
	default:
		s.writeJSON(w, http.StatusOK, sections)
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
