// Package postgres provides a PostgreSQL-backed store.ProfileStore.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/echoloom/echoloom/pkg/store"
)

// Schema is the SQL DDL for the speaking_profiles table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS speaking_profiles (
    user_id              TEXT PRIMARY KEY,
    preferred_style      TEXT NOT NULL DEFAULT 'normal',
    avg_confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    interruption_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
    frustration_baseline DOUBLE PRECISION NOT NULL DEFAULT 0,
    session_count        INTEGER NOT NULL DEFAULT 0,
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [store.ProfileStore] backed by a PostgreSQL database.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ store.ProfileStore = (*Store)(nil)

// New creates a Store using the given database connection or pool. The caller
// is responsible for calling [Store.Migrate] to ensure the schema exists
// before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("profilestore: migrate: %w", err)
	}
	return nil
}

// GetProfile retrieves the profile for a user. It returns (nil, nil) if no
// profile with the given user ID exists.
func (s *Store) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	const query = `
		SELECT user_id, preferred_style, avg_confidence, interruption_rate,
		       frustration_baseline, session_count, updated_at
		FROM speaking_profiles
		WHERE user_id = $1`

	var p store.Profile
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.PreferredStyle, &p.AvgConfidence, &p.InterruptionRate,
		&p.FrustrationBaseline, &p.SessionCount, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profilestore: get %q: %w", userID, err)
	}
	return &p, nil
}

// SaveProfile creates or replaces the user's profile.
func (s *Store) SaveProfile(ctx context.Context, p *store.Profile) error {
	if p.UserID == "" {
		return errors.New("profilestore: user_id must not be empty")
	}
	style := p.PreferredStyle
	if !style.IsValid() {
		style = "normal"
	}

	const query = `
		INSERT INTO speaking_profiles (
			user_id, preferred_style, avg_confidence, interruption_rate,
			frustration_baseline, session_count
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_style = EXCLUDED.preferred_style,
			avg_confidence = EXCLUDED.avg_confidence,
			interruption_rate = EXCLUDED.interruption_rate,
			frustration_baseline = EXCLUDED.frustration_baseline,
			session_count = EXCLUDED.session_count,
			updated_at = now()
		RETURNING updated_at`

	err := s.db.QueryRow(ctx, query,
		p.UserID, style, p.AvgConfidence, p.InterruptionRate,
		p.FrustrationBaseline, p.SessionCount,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profilestore: save %q: %w", p.UserID, err)
	}
	return nil
}
