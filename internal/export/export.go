// Package export renders finished reports into downloadable documents.
//
// The document layout is deterministic: a title, a patient information
// block, the clinical indication, and the markup-stripped report body.
// The plain-text renderer is the reference implementation; richer formats
// plug in through the Renderer interface.
package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mwaldt/radscribe/internal/report"
)

// Renderer turns a composed Document into a concrete file format.
type Renderer interface {
	// Render produces the document bytes.
	Render(doc Document) ([]byte, error)

	// ContentType returns the MIME type of the rendered output.
	ContentType() string

	// Extension returns the filename extension without a dot, e.g. "txt".
	Extension() string
}

// Document is the format-independent report layout.
type Document struct {
	Title      string
	Patient    []Field
	Indication string
	Body       string
}

// Field is one labelled line of the patient information block.
type Field struct {
	Label string
	Value string
}

var (
	headingTag = regexp.MustCompile(`<h3><strong>(.*?)</strong></h3>`)
	paraTag    = regexp.MustCompile(`<p>(.*?)</p>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
)

// StripMarkup removes the HTML markup the report editor embeds in
// formatted content, preserving section headings and paragraph breaks.
func StripMarkup(s string) string {
	s = headingTag.ReplaceAllString(s, "\n$1\n")
	s = paraTag.ReplaceAllString(s, "$1\n")
	s = anyTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Compose builds the Document for a report. The same Document feeds every
// renderer so all formats agree on content.
func Compose(r *report.Report) Document {
	body := StripMarkup(r.FormattedContent)
	if body == "" {
		body = "No content available"
	}
	return Document{
		Title: "RADIOLOGY REPORT",
		Patient: []Field{
			{Label: "Patient", Value: r.PatientName},
			{Label: "Age", Value: fmt.Sprintf("%d", r.PatientAge)},
			{Label: "Gender", Value: r.PatientGender},
			{Label: "Study", Value: r.Modality},
			{Label: "Date", Value: r.ReportDate.Format("2006-01-02")},
			{Label: "Report ID", Value: r.ID},
		},
		Indication: r.ClinicalIndication,
		Body:       body,
	}
}

// Filename builds the download filename for a report in the given
// renderer's format, patterned "<patient>_radiology_report.<ext>".
func Filename(r *report.Report, renderer Renderer) string {
	name := strings.TrimSpace(r.PatientName)
	if name == "" {
		name = "report"
	}
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("%s_radiology_report.%s", name, renderer.Extension())
}

// TextRenderer renders the plain-text document format.
type TextRenderer struct{}

var _ Renderer = TextRenderer{}

// Render implements Renderer.
func (TextRenderer) Render(doc Document) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString(doc.Title)
	sb.WriteString("\n\n")

	sb.WriteString("PATIENT INFORMATION\n")
	for _, f := range doc.Patient {
		fmt.Fprintf(&sb, "%s: %s\n", f.Label, f.Value)
	}
	sb.WriteString("\n")

	sb.WriteString("CLINICAL INDICATION\n")
	sb.WriteString(doc.Indication)
	sb.WriteString("\n\n")

	sb.WriteString("REPORT\n")
	sb.WriteString(doc.Body)
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

// ContentType implements Renderer.
func (TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }

// Extension implements Renderer.
func (TextRenderer) Extension() string { return "txt" }
