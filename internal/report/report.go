// Package report defines the central data model of radscribe: the Report
// aggregate produced by dictation and AI formatting, and the per-user
// Settings record.
//
// The package is deliberately free of storage or transport concerns; it
// holds the entities plus the small amount of merge logic that belongs to
// the aggregate itself (transcript append policy, formatted-content
// composition, advisory completeness validation).
package report

import (
	"fmt"
	"strings"
	"time"
)

// Report is the complete patient/study/transcript/formatted-content record.
//
// ID and ReportDate are assigned exactly once by the repository at creation
// and are never altered by later updates. All other fields may be empty on
// a draft; Complete reports whether the descriptive fields are filled.
type Report struct {
	// ID is the opaque unique report identifier.
	ID string `json:"id"`

	// PatientName, PatientAge, and PatientGender describe the patient.
	PatientName   string `json:"patientName"`
	PatientAge    int    `json:"patientAge"`
	PatientGender string `json:"patientGender"`

	// Modality is the imaging modality of the study (e.g., "CT", "X-ray").
	Modality string `json:"modality"`

	// ClinicalIndication is the reason the study was ordered.
	ClinicalIndication string `json:"clinicalIndication"`

	// Transcript is the accumulated dictation text. Append-only from the
	// dictation session's perspective, freely editable by the user.
	Transcript string `json:"transcript,omitempty"`

	// FormattedContent is the structured report body produced by the
	// formatting gateway (technique/findings/impression) or edited by hand.
	FormattedContent string `json:"formattedContent,omitempty"`

	// ReportDate is the creation timestamp, set once at creation.
	ReportDate time.Time `json:"reportDate"`

	// Metadata is an opaque side-channel map kept for forward
	// compatibility. Updates merge keys rather than replacing the map.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Update carries a partial set of report fields for a merge-style update.
// Nil pointer fields are left untouched. ID and ReportDate cannot be
// changed through an Update; the repository ignores any attempt.
type Update struct {
	PatientName        *string        `json:"patientName,omitempty"`
	PatientAge         *int           `json:"patientAge,omitempty"`
	PatientGender      *string        `json:"patientGender,omitempty"`
	Modality           *string        `json:"modality,omitempty"`
	ClinicalIndication *string        `json:"clinicalIndication,omitempty"`
	Transcript         *string        `json:"transcript,omitempty"`
	FormattedContent   *string        `json:"formattedContent,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Apply merges u into r. Metadata keys are merged into the existing map;
// all other set fields overwrite. r's ID and ReportDate are untouched.
func (u Update) Apply(r *Report) {
	if u.PatientName != nil {
		r.PatientName = *u.PatientName
	}
	if u.PatientAge != nil {
		r.PatientAge = *u.PatientAge
	}
	if u.PatientGender != nil {
		r.PatientGender = *u.PatientGender
	}
	if u.Modality != nil {
		r.Modality = *u.Modality
	}
	if u.ClinicalIndication != nil {
		r.ClinicalIndication = *u.ClinicalIndication
	}
	if u.Transcript != nil {
		r.Transcript = *u.Transcript
	}
	if u.FormattedContent != nil {
		r.FormattedContent = *u.FormattedContent
	}
	if len(u.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			r.Metadata[k] = v
		}
	}
}

// Complete reports whether all required descriptive fields are non-empty.
// Validation is advisory: the repository accepts incomplete drafts.
func (r *Report) Complete() bool {
	return r.PatientName != "" &&
		r.PatientAge > 0 &&
		r.PatientGender != "" &&
		r.Modality != "" &&
		r.ClinicalIndication != ""
}

// AppendTranscript appends a finalized dictation span to the report's
// transcript with a single separating space. Empty spans are ignored.
func (r *Report) AppendTranscript(span string) {
	span = strings.TrimSpace(span)
	if span == "" {
		return
	}
	if r.Transcript == "" {
		r.Transcript = span
		return
	}
	r.Transcript = r.Transcript + " " + span
}

// Sections holds the three structured parts of a formatted radiology
// report as returned by the formatting gateway.
type Sections struct {
	Technique  string `json:"technique"`
	Findings   string `json:"findings"`
	Impression string `json:"impression"`
}

// ComposeFormattedContent renders the three sections into the report body
// representation stored in FormattedContent. The layout is deterministic:
// upper-case section headers followed by the section text.
func ComposeFormattedContent(s Sections) string {
	var sb strings.Builder
	writeSection := func(header, body string) {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(body))
	}
	writeSection("TECHNIQUE", s.Technique)
	writeSection("FINDINGS", s.Findings)
	writeSection("IMPRESSION", s.Impression)
	return sb.String()
}

// Settings is the per-user preference record. Exactly one record exists
// per user identifier; saving again overwrites it (upsert semantics).
type Settings struct {
	ID string `json:"id"`

	// UserID keys the record.
	UserID string `json:"userId"`

	// APIKey is the user's LLM credential. Stored obscured (not encrypted)
	// by the local file store; see store/filestore.
	APIKey string `json:"openaiApiKey,omitempty"`

	// FontSize is the editor font size preference. Default 14.
	FontSize int `json:"fontSize"`

	// Theme is the UI theme preference. Default "light".
	Theme string `json:"theme"`
}

// DefaultSettings returns the settings served when no record exists for
// userID yet.
func DefaultSettings(userID string) Settings {
	return Settings{UserID: userID, FontSize: 14, Theme: "light"}
}

// Validate checks a settings payload before an upsert.
func (s *Settings) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("settings: userId is required")
	}
	if s.FontSize < 0 {
		return fmt.Errorf("settings: fontSize %d is negative", s.FontSize)
	}
	return nil
}
