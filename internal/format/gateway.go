// Package format implements the AI report formatting gateway. It turns a
// raw dictation transcript plus study context into the three structured
// report sections (technique, findings, impression) via an LLM provider.
//
// The gateway validates locally before any network call, sends a fixed
// radiologist prompt with a JSON response contract, and normalizes the
// reply: markdown code fences are stripped, and absent sections are
// substituted with fixed placeholder text. It performs no retries; the
// caller decides whether to try again.
package format

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mwaldt/radscribe/internal/report"
	"github.com/mwaldt/radscribe/pkg/provider/llm"
)

// Sentinel errors. The HTTP layer maps ErrInvalidRequest to 400 and
// ErrUpstream to 500.
var (
	// ErrInvalidRequest means the request failed local validation; no
	// provider call was made.
	ErrInvalidRequest = errors.New("format: invalid request")

	// ErrUpstream means the provider call failed or returned a body that
	// could not be parsed.
	ErrUpstream = errors.New("format: upstream failure")
)

// Placeholder text substituted for sections the model left empty.
const (
	PlaceholderTechnique  = "Not specified"
	PlaceholderFindings   = "No significant findings"
	PlaceholderImpression = "Clinical correlation recommended"
)

const (
	defaultTemperature = 0.3

	systemPrompt = "You are an expert radiologist who creates professional, standardized radiology reports."

	userPromptTemplate = `You are an expert radiologist. Please format the following transcript into a professional radiology report with standardized sections.

Study Details:
- Modality: %s
- Body Part: %s
- Clinical Indication: %s

Transcript:
%s

Please format this into a professional radiology report with the following sections:
- TECHNIQUE
- FINDINGS
- IMPRESSION

Use proper medical terminology and follow standard radiology reporting conventions. Return the response as JSON with this structure:
{
  "technique": "description of imaging technique used",
  "findings": "detailed findings from the study",
  "impression": "concise clinical impression and recommendations"
}`
)

// Request carries the transcript and study context for one formatting
// call. APIKey is the per-user LLM credential from settings.
type Request struct {
	Transcript string
	Modality   string
	BodyPart   string
	Indication string
	APIKey     string
}

// ProviderFactory builds an llm.Provider bound to a user credential. The
// gateway calls it once per Format so each clinician's own key is used.
type ProviderFactory func(apiKey string) (llm.Provider, error)

// Option is a functional option for Gateway.
type Option func(*Gateway)

// WithTemperature overrides the sampling temperature. Default: 0.3.
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// Gateway formats dictation transcripts through an LLM provider. It is
// safe for concurrent use; concurrency limits are the caller's concern.
type Gateway struct {
	factory     ProviderFactory
	temperature float64
}

// New returns a Gateway that obtains providers from factory.
func New(factory ProviderFactory, opts ...Option) *Gateway {
	g := &Gateway{
		factory:     factory,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// llmSections is the JSON response contract.
type llmSections struct {
	Technique  string `json:"technique"`
	Findings   string `json:"findings"`
	Impression string `json:"impression"`
}

// Format runs one formatting call. A missing transcript or credential
// fails with ErrInvalidRequest before any provider interaction; provider
// errors and unparseable responses fail with ErrUpstream.
func (g *Gateway) Format(ctx context.Context, req Request) (report.Sections, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return report.Sections{}, fmt.Errorf("%w: transcript is required", ErrInvalidRequest)
	}
	if req.APIKey == "" {
		return report.Sections{}, fmt.Errorf("%w: API key is required", ErrInvalidRequest)
	}

	provider, err := g.factory(req.APIKey)
	if err != nil {
		return report.Sections{}, fmt.Errorf("%w: build provider: %v", ErrUpstream, err)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature: g.temperature,
		JSONOnly:    true,
	})
	if err != nil {
		return report.Sections{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	sections, err := parseSections(resp.Content)
	if err != nil {
		return report.Sections{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return sections, nil
}

// buildUserPrompt renders the fixed prompt template. Absent study fields
// are shown as "Not specified" so the model never sees empty slots.
func buildUserPrompt(req Request) string {
	return fmt.Sprintf(userPromptTemplate,
		orPlaceholder(req.Modality),
		orPlaceholder(req.BodyPart),
		orPlaceholder(req.Indication),
		req.Transcript,
	)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return PlaceholderTechnique
	}
	return s
}

// parseSections decodes the model reply, stripping optional markdown code
// fences, and fills empty sections with the fixed placeholders.
func parseSections(content string) (report.Sections, error) {
	cleaned := stripMarkdown(content)

	var s llmSections
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return report.Sections{}, fmt.Errorf("parse response: %w", err)
	}

	out := report.Sections{
		Technique:  strings.TrimSpace(s.Technique),
		Findings:   strings.TrimSpace(s.Findings),
		Impression: strings.TrimSpace(s.Impression),
	}
	if out.Technique == "" {
		out.Technique = PlaceholderTechnique
	}
	if out.Findings == "" {
		out.Findings = PlaceholderFindings
	}
	if out.Impression == "" {
		out.Impression = PlaceholderImpression
	}
	return out, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
