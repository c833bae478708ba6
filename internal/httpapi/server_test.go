package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mwaldt/radscribe/internal/format"
	"github.com/mwaldt/radscribe/internal/httpapi"
	"github.com/mwaldt/radscribe/internal/report"
	"github.com/mwaldt/radscribe/internal/store"
	"github.com/mwaldt/radscribe/pkg/provider/llm"
	llmmock "github.com/mwaldt/radscribe/pkg/provider/llm/mock"
)

// testEnv bundles a running API server with its backing fakes.
type testEnv struct {
	ts    *httptest.Server
	store *store.MemStore
	llm   *llmmock.Provider

	// factoryKeys records every credential the gateway resolved.
	factoryKeys []string
}

func newTestEnv(t *testing.T, opts ...httpapi.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemStore(),
		llm: &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: `{"technique":"CT without contrast","findings":"Clear lungs","impression":"Normal study"}`,
			},
		},
	}
	gw := format.New(func(apiKey string) (llm.Provider, error) {
		env.factoryKeys = append(env.factoryKeys, apiKey)
		return env.llm, nil
	})

	mux := http.NewServeMux()
	httpapi.New(env.store, gw, opts...).Register(mux)
	env.ts = httptest.NewServer(mux)
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCreateAndGetReport(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{
		PatientName:        "Jane Doe",
		PatientAge:         52,
		PatientGender:      "female",
		Modality:           "CT",
		ClinicalIndication: "persistent cough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	created := decode[report.Report](t, resp)
	if created.ID == "" {
		t.Fatal("created report has no ID")
	}
	if created.ReportDate.IsZero() {
		t.Fatal("created report has no date")
	}

	resp = env.do(t, "GET", "/api/reports/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got := decode[report.Report](t, resp)
	if got.PatientName != "Jane Doe" {
		t.Errorf("patient = %q, want Jane Doe", got.PatientName)
	}
}

func TestCreateReportRejectsIncomplete(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{Modality: "CT"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGetReportNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/reports/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	body := decode[map[string]string](t, resp)
	if body["message"] != "Report not found" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestUpdateReportMergesFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{PatientName: "John Smith", Modality: "MRI"})
	created := decode[report.Report](t, resp)

	transcript := "The lumbar spine is unremarkable."
	resp = env.do(t, "PATCH", "/api/reports/"+created.ID, report.Update{Transcript: &transcript})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	updated := decode[report.Report](t, resp)
	if updated.Transcript != transcript {
		t.Errorf("transcript = %q", updated.Transcript)
	}
	if updated.PatientName != "John Smith" {
		t.Errorf("patch overwrote untouched field: patient = %q", updated.PatientName)
	}
}

func TestDeleteReport(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{PatientName: "X", Modality: "CT"})
	created := decode[report.Report](t, resp)

	resp = env.do(t, "DELETE", "/api/reports/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = env.do(t, "DELETE", "/api/reports/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestSearchReports(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/reports", report.Report{PatientName: "Alice Jones", Modality: "CT"})
	env.do(t, "POST", "/api/reports", report.Report{PatientName: "Bob Brown", Modality: "MRI"})

	resp := env.do(t, "GET", "/api/reports/search?patientName=jones", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got := decode[[]report.Report](t, resp)
	if len(got) != 1 || got[0].PatientName != "Alice Jones" {
		t.Errorf("search by name returned %v", got)
	}

	resp = env.do(t, "GET", "/api/reports/search?modality=MRI", nil)
	got = decode[[]report.Report](t, resp)
	if len(got) != 1 || got[0].Modality != "MRI" {
		t.Errorf("search by modality returned %v", got)
	}
}

func TestSearchReportsRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/reports/search?from=yesterday", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestListReportsHonorsQueryFilters(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/reports", report.Report{PatientName: "John Carter", Modality: "CT"})
	env.do(t, "POST", "/api/reports", report.Report{PatientName: "John Reed", Modality: "MRI"})
	env.do(t, "POST", "/api/reports", report.Report{PatientName: "Alice Jones", Modality: "CT"})

	resp := env.do(t, "GET", "/api/reports?search=john&modality=CT", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got := decode[[]report.Report](t, resp)
	if len(got) != 1 || got[0].PatientName != "John Carter" {
		t.Errorf("filtered list returned %v", got)
	}

	resp = env.do(t, "GET", "/api/reports?search=nobody", nil)
	if got = decode[[]report.Report](t, resp); len(got) != 0 {
		t.Errorf("non-matching search returned %v", got)
	}

	resp = env.do(t, "GET", "/api/reports?endDate=2020-01-01", nil)
	if got = decode[[]report.Report](t, resp); len(got) != 0 {
		t.Errorf("endDate filter ignored, returned %v", got)
	}

	resp = env.do(t, "GET", "/api/reports?startDate=nonsense", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad startDate status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	// No parameters still lists everything.
	resp = env.do(t, "GET", "/api/reports", nil)
	if got = decode[[]report.Report](t, resp); len(got) != 3 {
		t.Errorf("unfiltered list returned %d reports, want 3", len(got))
	}
}

func TestGetSettingsServesDefaults(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/settings/default-user", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got := decode[report.Settings](t, resp)
	if got.UserID != "default-user" || got.FontSize != 14 || got.Theme != "light" {
		t.Errorf("defaults = %+v", got)
	}
}

func TestSaveAndGetSettings(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/settings", report.Settings{
		UserID:   "default-user",
		APIKey:   "sk-test",
		FontSize: 18,
		Theme:    "dark",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = env.do(t, "GET", "/api/settings/default-user", nil)
	got := decode[report.Settings](t, resp)
	if got.FontSize != 18 || got.Theme != "dark" || got.APIKey != "sk-test" {
		t.Errorf("settings = %+v", got)
	}
}

func TestSaveSettingsRequiresUserID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/settings", report.Settings{FontSize: 12})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestFormatReport(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/format-report", map[string]string{
		"transcript":         "lungs are clear",
		"modality":           "CT",
		"bodyPart":           "Chest",
		"clinicalIndication": "cough",
		"apiKey":             "sk-direct",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got := decode[report.Sections](t, resp)
	if got.Findings != "Clear lungs" {
		t.Errorf("findings = %q", got.Findings)
	}
	if env.llm.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", env.llm.Calls())
	}
}

func TestFormatReportResolvesStoredKey(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/settings", report.Settings{UserID: "u1", APIKey: "sk-stored"})

	resp := env.do(t, "POST", "/api/format-report", map[string]string{
		"transcript": "no acute findings",
		"userId":     "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(env.factoryKeys) != 1 || env.factoryKeys[0] != "sk-stored" {
		t.Errorf("resolved keys = %v, want [sk-stored]", env.factoryKeys)
	}
}

func TestFormatReportMissingCredential(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/format-report", map[string]string{
		"transcript": "lungs are clear",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if env.llm.Calls() != 0 {
		t.Errorf("provider called %d times before validation", env.llm.Calls())
	}
}

func TestFormatReportUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.llm.CompleteErr = errors.New("rate limited")
	env.llm.CompleteResponse = nil

	resp := env.do(t, "POST", "/api/format-report", map[string]string{
		"transcript": "lungs are clear",
		"apiKey":     "sk-test",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	body := decode[map[string]string](t, resp)
	if body["message"] != "Failed to format report" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestExportReportText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{
		PatientName:        "Jane Doe",
		PatientAge:         52,
		PatientGender:      "female",
		Modality:           "CT",
		ClinicalIndication: "persistent cough",
		FormattedContent:   "<h3><strong>FINDINGS</strong></h3><p>Clear lungs.</p>",
	})
	created := decode[report.Report](t, resp)

	resp = env.do(t, "GET", fmt.Sprintf("/api/reports/%s/export?format=text", created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Jane_Doe_radiology_report.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "RADIOLOGY REPORT") || !strings.Contains(text, "Clear lungs.") {
		t.Errorf("export body missing content:\n%s", text)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("export body leaked markup:\n%s", text)
	}
}

func TestFormatReportSerializedPerReport(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	env.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		startedOnce.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &llm.CompletionResponse{Content: `{"technique":"t","findings":"f","impression":"i"}`}, nil
	}

	body := map[string]string{
		"transcript": "lungs are clear",
		"apiKey":     "sk-test",
		"reportId":   "r1",
	}

	done := make(chan int, 1)
	go func() {
		resp := env.do(t, "POST", "/api/format-report", body)
		done <- resp.StatusCode
	}()

	<-started
	resp := env.do(t, "POST", "/api/format-report", body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent format status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first format status = %d, want %d", code, http.StatusOK)
	}

	// The flag is released: a fresh call for the same report succeeds.
	resp = env.do(t, "POST", "/api/format-report", body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("follow-up format status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// similarStore extends the memory store with a canned similarity index.
type similarStore struct {
	*store.MemStore
	queries []string
}

func (s *similarStore) FindSimilar(ctx context.Context, q string, limit int) ([]report.Report, error) {
	s.queries = append(s.queries, q)
	reports, err := s.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	if len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func TestSimilarReports(t *testing.T) {
	st := &similarStore{MemStore: store.NewMemStore()}
	gw := format.New(func(string) (llm.Provider, error) { return nil, nil })
	mux := http.NewServeMux()
	httpapi.New(st, gw).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	if _, err := st.CreateReport(context.Background(), report.Report{PatientName: "A", Modality: "CT"}); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	resp, err := ts.Client().Get(ts.URL + "/api/reports/similar?q=pleural+effusion")
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got []report.Report
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("results = %d, want 1", len(got))
	}
	if len(st.queries) != 1 || st.queries[0] != "pleural effusion" {
		t.Errorf("queries = %v", st.queries)
	}
}

func TestSimilarReportsUnsupportedBackend(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/reports/similar?q=nodule", nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestExportReportUnknownFormat(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/reports", report.Report{PatientName: "X", Modality: "CT"})
	created := decode[report.Report](t, resp)

	resp = env.do(t, "GET", "/api/reports/"+created.ID+"/export?format=docx", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
