package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mwaldt/radscribe/internal/report"
	"github.com/mwaldt/radscribe/internal/store"
	"github.com/mwaldt/radscribe/pkg/provider/embeddings"
)

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small, the
// default embedder.
const defaultEmbeddingDimensions = 1536

var (
	_ store.Store              = (*Store)(nil)
	_ store.SimilaritySearcher = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithEmbedder attaches an embeddings provider. Report content is indexed
// on create and update, enabling FindSimilar. Without an embedder the
// embedding column stays NULL and FindSimilar returns an error.
func WithEmbedder(e embeddings.Provider) Option {
	return func(s *Store) { s.embedder = e }
}

// WithLogger sets the logger for non-fatal indexing warnings. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the PostgreSQL-backed report store. All operations are safe
// for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	log      *slog.Logger
}

// New establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types so the embedding column can be scanned into
	// and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	dims := defaultEmbeddingDimensions
	if s.embedder != nil {
		dims = s.embedder.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s.pool = pool
	return s, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const reportColumns = `id, patient_name, patient_age, patient_gender, modality,
	clinical_indication, transcript, formatted_content, report_date, metadata`

// CreateReport implements store.Store.
func (s *Store) CreateReport(ctx context.Context, r report.Report) (report.Report, error) {
	r.ID = uuid.NewString()
	r.ReportDate = time.Now().UTC()
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, patient_name, patient_age, patient_gender, modality,
			clinical_indication, transcript, formatted_content, report_date, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.PatientName, r.PatientAge, r.PatientGender, r.Modality,
		r.ClinicalIndication, r.Transcript, r.FormattedContent, r.ReportDate, r.Metadata,
		s.embed(ctx, &r),
	)
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: insert report: %w", err)
	}
	return r, nil
}

// GetReport implements store.Store.
func (s *Store) GetReport(ctx context.Context, id string) (report.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Report{}, fmt.Errorf("postgres store: report %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: get report: %w", err)
	}
	return r, nil
}

// ListReports implements store.Store.
func (s *Store) ListReports(ctx context.Context) ([]report.Report, error) {
	return s.SearchReports(ctx, store.SearchQuery{})
}

// SearchReports implements store.Store. Filters translate to SQL so the
// database does the work: case-insensitive substring on patient name,
// exact modality, inclusive report_date bounds.
func (s *Store) SearchReports(ctx context.Context, q store.SearchQuery) ([]report.Report, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PatientName != "" {
		where = append(where, `patient_name ILIKE `+arg("%"+escapeLike(q.PatientName)+"%")+` ESCAPE '\'`)
	}
	if q.Modality != "" {
		where = append(where, `modality = `+arg(q.Modality))
	}
	if !q.From.IsZero() {
		where = append(where, `report_date >= `+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, `report_date <= `+arg(q.To))
	}

	sql := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	// Equal dates keep insertion order via the serial seq column.
	sql += ` ORDER BY report_date DESC, seq ASC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search reports: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// UpsertReport implements store.Store. On conflict the whole row is
// replaced except seq, so the report keeps its position in the
// insertion-order tie-break.
func (s *Store) UpsertReport(ctx context.Context, r report.Report) (report.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReportDate.IsZero() {
		r.ReportDate = time.Now().UTC()
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, patient_name, patient_age, patient_gender, modality,
			clinical_indication, transcript, formatted_content, report_date, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
			SET patient_name = EXCLUDED.patient_name,
			    patient_age = EXCLUDED.patient_age,
			    patient_gender = EXCLUDED.patient_gender,
			    modality = EXCLUDED.modality,
			    clinical_indication = EXCLUDED.clinical_indication,
			    transcript = EXCLUDED.transcript,
			    formatted_content = EXCLUDED.formatted_content,
			    report_date = EXCLUDED.report_date,
			    metadata = EXCLUDED.metadata,
			    embedding = EXCLUDED.embedding`,
		r.ID, r.PatientName, r.PatientAge, r.PatientGender, r.Modality,
		r.ClinicalIndication, r.Transcript, r.FormattedContent, r.ReportDate, r.Metadata,
		s.embed(ctx, &r),
	)
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: upsert report: %w", err)
	}
	return r, nil
}

// UpdateReport implements store.Store. The merge happens read-modify-write
// inside a transaction so concurrent partial updates do not clobber each
// other's fields.
func (s *Store) UpdateReport(ctx context.Context, id string, u report.Update) (report.Report, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Report{}, fmt.Errorf("postgres store: report %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: load report for update: %w", err)
	}

	u.Apply(&r)
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	_, err = tx.Exec(ctx, `
		UPDATE reports SET patient_name = $2, patient_age = $3, patient_gender = $4,
			modality = $5, clinical_indication = $6, transcript = $7,
			formatted_content = $8, metadata = $9, embedding = $10
		WHERE id = $1`,
		r.ID, r.PatientName, r.PatientAge, r.PatientGender, r.Modality,
		r.ClinicalIndication, r.Transcript, r.FormattedContent, r.Metadata,
		s.embed(ctx, &r),
	)
	if err != nil {
		return report.Report{}, fmt.Errorf("postgres store: update report: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return report.Report{}, fmt.Errorf("postgres store: commit update: %w", err)
	}
	return r, nil
}

// DeleteReport implements store.Store.
func (s *Store) DeleteReport(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: report %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetSettings implements store.Store.
func (s *Store) GetSettings(ctx context.Context, userID string) (report.Settings, error) {
	var out report.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, api_key, font_size, theme FROM settings WHERE user_id = $1`,
		userID,
	).Scan(&out.ID, &out.UserID, &out.APIKey, &out.FontSize, &out.Theme)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Settings{}, fmt.Errorf("postgres store: settings for %q: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return report.Settings{}, fmt.Errorf("postgres store: get settings: %w", err)
	}
	return out, nil
}

// SaveSettings implements store.Store with upsert semantics keyed by
// user_id.
func (s *Store) SaveSettings(ctx context.Context, st report.Settings) (report.Settings, error) {
	if err := st.Validate(); err != nil {
		return report.Settings{}, err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO settings (id, user_id, api_key, font_size, theme)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
			SET api_key = EXCLUDED.api_key,
			    font_size = EXCLUDED.font_size,
			    theme = EXCLUDED.theme
		RETURNING id`,
		st.ID, st.UserID, st.APIKey, st.FontSize, st.Theme,
	).Scan(&st.ID)
	if err != nil {
		return report.Settings{}, fmt.Errorf("postgres store: save settings: %w", err)
	}
	return st, nil
}

// FindSimilar implements store.SimilaritySearcher using cosine distance
// over the report embedding column.
func (s *Store) FindSimilar(ctx context.Context, query string, limit int) ([]report.Report, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("postgres store: no embedder configured")
	}
	if limit <= 0 {
		limit = 10
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(vec), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similarity search: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// embed computes the embedding vector for a report's text content.
// Indexing is best-effort: on failure the report is stored without a
// vector and a warning is logged.
func (s *Store) embed(ctx context.Context, r *report.Report) *pgvector.Vector {
	if s.embedder == nil {
		return nil
	}
	text := strings.TrimSpace(r.ClinicalIndication + "\n" + r.Transcript + "\n" + r.FormattedContent)
	if text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn("report embedding failed, storing without vector",
			"report_id", r.ID, "error", err)
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

// scanReport reads one report row in reportColumns order.
func scanReport(row pgx.Row) (report.Report, error) {
	var r report.Report
	err := row.Scan(&r.ID, &r.PatientName, &r.PatientAge, &r.PatientGender, &r.Modality,
		&r.ClinicalIndication, &r.Transcript, &r.FormattedContent, &r.ReportDate, &r.Metadata)
	return r, err
}

// collectReports drains rows into a slice.
func collectReports(rows pgx.Rows) ([]report.Report, error) {
	var out []report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return out, nil
}

// escapeLike escapes LIKE metacharacters in user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
