// Package postgres provides the PostgreSQL-backed report store. It
// implements store.Store plus store.SimilaritySearcher when an embeddings
// provider is attached.
//
// All operations share a single [pgxpool.Pool]. The pgvector extension
// must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn, postgres.WithEmbedder(emb))
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    id        TEXT  PRIMARY KEY,
    user_id   TEXT  NOT NULL UNIQUE,
    api_key   TEXT  NOT NULL DEFAULT '',
    font_size INT   NOT NULL DEFAULT 14,
    theme     TEXT  NOT NULL DEFAULT 'light'
);
`

// ddlReports returns the reports DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at
// schema creation time.
func ddlReports(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS reports (
    id                  TEXT         PRIMARY KEY,
    seq                 BIGSERIAL,
    patient_name        TEXT         NOT NULL DEFAULT '',
    patient_age         INT          NOT NULL DEFAULT 0,
    patient_gender      TEXT         NOT NULL DEFAULT '',
    modality            TEXT         NOT NULL DEFAULT '',
    clinical_indication TEXT         NOT NULL DEFAULT '',
    transcript          TEXT         NOT NULL DEFAULT '',
    formatted_content   TEXT         NOT NULL DEFAULT '',
    report_date         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    metadata            JSONB        NOT NULL DEFAULT '{}',
    embedding           vector(%d)
);

ALTER TABLE reports ADD COLUMN IF NOT EXISTS seq BIGSERIAL;

CREATE INDEX IF NOT EXISTS idx_reports_report_date
    ON reports (report_date DESC, seq ASC);

CREATE INDEX IF NOT EXISTS idx_reports_modality
    ON reports (modality);

CREATE INDEX IF NOT EXISTS idx_reports_patient_name
    ON reports (lower(patient_name));

CREATE INDEX IF NOT EXISTS idx_reports_embedding
    ON reports USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It
// is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing it
// after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlReports(embeddingDimensions),
		ddlSettings,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
