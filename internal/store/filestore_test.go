package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwaldt/radscribe/internal/report"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "radscribe.json")
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	created, err := fs.CreateReport(ctx, report.Report{
		PatientName: "Jane Doe",
		Modality:    "CT",
	})
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if _, err := fs.SaveSettings(ctx, report.Settings{UserID: "u1", APIKey: "sk-test", FontSize: 14, Theme: "light"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	// Reopen and verify everything survived the restart.
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got, err := reopened.GetReport(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetReport after reopen: %v", err)
	}
	if got.PatientName != "Jane Doe" || !got.ReportDate.Equal(created.ReportDate) {
		t.Errorf("report did not survive reopen: %+v", got)
	}

	settings, err := reopened.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSettings after reopen: %v", err)
	}
	if settings.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", settings.APIKey)
	}
}

func TestFileStoreObscuresAPIKeyOnDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "radscribe.json")
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if _, err := fs.SaveSettings(ctx, report.Settings{UserID: "u1", APIKey: "sk-secret-value"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	if strings.Contains(string(raw), "sk-secret-value") {
		t.Error("plaintext API key found in store file")
	}
	if !json.Valid(raw) {
		t.Error("store file is not valid JSON")
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "radscribe.json")

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	reports, err := fs.ListReports(context.Background())
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("fresh store has %d reports, want 0", len(reports))
	}
}

func TestFileStoreUpsertPersistsAndKeepsTieBreak(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "radscribe.json")
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	fs.mem.now = fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), 0)

	a, err := fs.CreateReport(ctx, report.Report{PatientName: "first"})
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if _, err := fs.CreateReport(ctx, report.Report{PatientName: "second"}); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	a.PatientName = "first, revised"
	if _, err := fs.UpsertReport(ctx, a); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}

	// The replace and the equal-date ordering must survive a restart.
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].PatientName != "first, revised" || got[1].PatientName != "second" {
		t.Errorf("order after reopen = [%q, %q]", got[0].PatientName, got[1].PatientName)
	}
}

func TestFileStoreDeletePersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "radscribe.json")
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	created, err := fs.CreateReport(ctx, report.Report{PatientName: "Jane Doe"})
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if err := fs.DeleteReport(ctx, created.ID); err != nil {
		t.Fatalf("DeleteReport: %v", err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reports, err := reopened.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("deleted report resurrected after reopen: %+v", reports)
	}
}
