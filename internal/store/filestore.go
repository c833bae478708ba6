package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mwaldt/radscribe/internal/report"
)

// FileStore is a Store persisted to a single JSON file, suitable for
// single-workstation deployments without a database. It keeps the full
// data set in memory and rewrites the file atomically after every
// mutation.
//
// The stored API key is base64-obscured in the file. That is obfuscation
// against casual inspection, not encryption; deployments that need real
// secrecy should use the postgres backend with external secret
// management.
type FileStore struct {
	path string

	persistMu sync.Mutex
	mem       *MemStore
}

var _ Store = (*FileStore)(nil)

// fileSnapshot is the on-disk layout.
type fileSnapshot struct {
	Reports  []report.Report   `json:"reports"`
	Settings []report.Settings `json:"settings"`
}

// OpenFileStore loads the store file at path, creating parent directories
// as needed. A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create directory %q: %w", dir, err)
		}
	}

	fs := &FileStore{path: path, mem: NewMemStore()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %q: %w", path, err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("filestore: decode %q: %w", path, err)
	}
	fs.load(snap)
	return fs, nil
}

// load seeds the in-memory state from a snapshot. The file holds reports
// newest first with equal dates in insertion order, so assigning sequence
// numbers in file order reproduces the tie-break on reload.
func (f *FileStore) load(snap fileSnapshot) {
	for i := range snap.Reports {
		stored := snap.Reports[i]
		f.mem.reports[stored.ID] = &stored
		f.mem.nextSeq++
		f.mem.seq[stored.ID] = f.mem.nextSeq
	}
	for _, s := range snap.Settings {
		s.APIKey = deobscure(s.APIKey)
		f.mem.settings[s.UserID] = s
	}
}

// persist writes the full data set to disk via a temp-file rename.
func (f *FileStore) persist(ctx context.Context) error {
	f.persistMu.Lock()
	defer f.persistMu.Unlock()

	reports, err := f.mem.ListReports(ctx)
	if err != nil {
		return err
	}

	f.mem.mu.RLock()
	settings := make([]report.Settings, 0, len(f.mem.settings))
	for _, s := range f.mem.settings {
		s.APIKey = obscure(s.APIKey)
		settings = append(settings, s)
	}
	f.mem.mu.RUnlock()
	sort.Slice(settings, func(i, j int) bool { return settings[i].UserID < settings[j].UserID })

	data, err := json.MarshalIndent(fileSnapshot{Reports: reports, Settings: settings}, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("filestore: rename %q: %w", tmp, err)
	}
	return nil
}

// CreateReport implements Store.
func (f *FileStore) CreateReport(ctx context.Context, r report.Report) (report.Report, error) {
	created, err := f.mem.CreateReport(ctx, r)
	if err != nil {
		return report.Report{}, err
	}
	if err := f.persist(ctx); err != nil {
		return report.Report{}, err
	}
	return created, nil
}

// GetReport implements Store.
func (f *FileStore) GetReport(ctx context.Context, id string) (report.Report, error) {
	return f.mem.GetReport(ctx, id)
}

// ListReports implements Store.
func (f *FileStore) ListReports(ctx context.Context) ([]report.Report, error) {
	return f.mem.ListReports(ctx)
}

// SearchReports implements Store.
func (f *FileStore) SearchReports(ctx context.Context, q SearchQuery) ([]report.Report, error) {
	return f.mem.SearchReports(ctx, q)
}

// UpsertReport implements Store.
func (f *FileStore) UpsertReport(ctx context.Context, r report.Report) (report.Report, error) {
	saved, err := f.mem.UpsertReport(ctx, r)
	if err != nil {
		return report.Report{}, err
	}
	if err := f.persist(ctx); err != nil {
		return report.Report{}, err
	}
	return saved, nil
}

// UpdateReport implements Store.
func (f *FileStore) UpdateReport(ctx context.Context, id string, u report.Update) (report.Report, error) {
	updated, err := f.mem.UpdateReport(ctx, id, u)
	if err != nil {
		return report.Report{}, err
	}
	if err := f.persist(ctx); err != nil {
		return report.Report{}, err
	}
	return updated, nil
}

// DeleteReport implements Store.
func (f *FileStore) DeleteReport(ctx context.Context, id string) error {
	if err := f.mem.DeleteReport(ctx, id); err != nil {
		return err
	}
	return f.persist(ctx)
}

// GetSettings implements Store.
func (f *FileStore) GetSettings(ctx context.Context, userID string) (report.Settings, error) {
	return f.mem.GetSettings(ctx, userID)
}

// SaveSettings implements Store.
func (f *FileStore) SaveSettings(ctx context.Context, s report.Settings) (report.Settings, error) {
	saved, err := f.mem.SaveSettings(ctx, s)
	if err != nil {
		return report.Settings{}, err
	}
	if err := f.persist(ctx); err != nil {
		return report.Settings{}, err
	}
	return saved, nil
}

// obscure base64-encodes a credential for the on-disk form.
func obscure(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// deobscure reverses obscure, tolerating plaintext values written by
// older versions.
func deobscure(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(decoded)
}
