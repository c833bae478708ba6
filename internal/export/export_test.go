package export_test

import (
	"strings"
	"testing"
	"time"

	"github.com/mwaldt/radscribe/internal/export"
	"github.com/mwaldt/radscribe/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		ID:                 "r-123",
		PatientName:        "Jane Doe",
		PatientAge:         54,
		PatientGender:      "female",
		Modality:           "CT",
		ClinicalIndication: "persistent cough",
		FormattedContent:   "<h3><strong>FINDINGS</strong></h3><p>Clear lung fields.</p>",
		ReportDate:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStripMarkup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "heading and paragraph",
			in:   "<h3><strong>FINDINGS</strong></h3><p>Clear lung fields.</p>",
			want: "FINDINGS\nClear lung fields.",
		},
		{
			name: "stray tags removed",
			in:   "<div>No <em>acute</em> disease</div>",
			want: "No acute disease",
		},
		{
			name: "plain text unchanged",
			in:   "Unremarkable exam",
			want: "Unremarkable exam",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := export.StripMarkup(tt.in); got != tt.want {
				t.Errorf("StripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextRenderDeterministic(t *testing.T) {
	t.Parallel()
	doc := export.Compose(sampleReport())
	r := export.TextRenderer{}

	first, err := r.Render(doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(first) != string(second) {
		t.Error("identical inputs rendered differently")
	}

	out := string(first)
	for _, want := range []string{
		"RADIOLOGY REPORT",
		"PATIENT INFORMATION",
		"Patient: Jane Doe",
		"Age: 54",
		"Study: CT",
		"Report ID: r-123",
		"CLINICAL INDICATION",
		"persistent cough",
		"REPORT",
		"FINDINGS",
		"Clear lung fields.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered document missing %q", want)
		}
	}
	if strings.Contains(out, "<") {
		t.Error("markup leaked into rendered document")
	}
}

func TestComposeEmptyContent(t *testing.T) {
	t.Parallel()
	r := sampleReport()
	r.FormattedContent = ""

	doc := export.Compose(r)
	if doc.Body != "No content available" {
		t.Errorf("Body = %q, want fallback text", doc.Body)
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()
	got := export.Filename(sampleReport(), export.TextRenderer{})
	if got != "Jane_Doe_radiology_report.txt" {
		t.Errorf("Filename = %q", got)
	}

	anon := sampleReport()
	anon.PatientName = ""
	if got := export.Filename(anon, export.TextRenderer{}); got != "report_radiology_report.txt" {
		t.Errorf("Filename for empty name = %q", got)
	}
}
