package fallback

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/echoloom/echoloom/internal/quality"
)

// LibrarySchema is the SQL DDL for the fallback_utterances table. Execute it
// via [PostgresLibrary.Migrate] or apply it manually during deployment.
const LibrarySchema = `
CREATE TABLE IF NOT EXISTS fallback_utterances (
    language   TEXT NOT NULL,
    issue_type TEXT NOT NULL,
    variant    INTEGER NOT NULL,
    text       TEXT NOT NULL,
    audio      BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (language, issue_type, variant)
);
`

// DB is the database interface used by [PostgresLibrary]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLibrary is a [Library] backed by a PostgreSQL table of
// pre-generated utterances.
type PostgresLibrary struct {
	db DB
}

// Compile-time interface check.
var _ Library = (*PostgresLibrary)(nil)

// NewPostgresLibrary creates a library using the given database connection or
// pool. The caller is responsible for calling [PostgresLibrary.Migrate] to
// ensure the schema exists before issuing queries.
func NewPostgresLibrary(db DB) *PostgresLibrary {
	return &PostgresLibrary{db: db}
}

// Migrate executes the [LibrarySchema] DDL against the database.
func (l *PostgresLibrary) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, LibrarySchema); err != nil {
		return fmt.Errorf("fallback: migrate library: %w", err)
	}
	return nil
}

// Lookup returns the variant selected by attempt count, rotating through the
// available variants for the language/type. Returns (nil, nil) when the
// library holds no utterances for this key.
func (l *PostgresLibrary) Lookup(ctx context.Context, language string, issueType quality.IssueType, attempt int) (*Utterance, error) {
	const countQuery = `
		SELECT count(*) FROM fallback_utterances
		WHERE language = $1 AND issue_type = $2`

	var n int
	if err := l.db.QueryRow(ctx, countQuery, language, string(issueType)).Scan(&n); err != nil {
		return nil, fmt.Errorf("fallback: count variants: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	if attempt < 0 {
		attempt = 0
	}

	const selectQuery = `
		SELECT text, audio FROM fallback_utterances
		WHERE language = $1 AND issue_type = $2
		ORDER BY variant
		OFFSET $3 LIMIT 1`

	var utt Utterance
	err := l.db.QueryRow(ctx, selectQuery, language, string(issueType), attempt%n).
		Scan(&utt.Text, &utt.Audio)
	if err != nil {
		return nil, fmt.Errorf("fallback: lookup variant: %w", err)
	}
	return &utt, nil
}

// Put inserts or replaces one library variant. Used by provisioning tooling
// to pre-bake utterances.
func (l *PostgresLibrary) Put(ctx context.Context, language string, issueType quality.IssueType, variant int, text string, audio []byte) error {
	const query = `
		INSERT INTO fallback_utterances (language, issue_type, variant, text, audio)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (language, issue_type, variant) DO UPDATE SET
			text = EXCLUDED.text,
			audio = EXCLUDED.audio,
			created_at = now()`

	if _, err := l.db.Exec(ctx, query, language, string(issueType), variant, text, audio); err != nil {
		return fmt.Errorf("fallback: put variant: %w", err)
	}
	return nil
}
