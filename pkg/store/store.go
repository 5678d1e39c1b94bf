// Package store defines persistence interfaces for user speaking profiles.
//
// Profiles let returning users warm-start the adaptive layer: the session
// engine loads the persisted profile at session creation instead of beginning
// every session from neutral defaults.
package store

import (
	"context"
	"time"

	"github.com/echoloom/echoloom/pkg/types"
)

// Profile is the persisted slice of a user's speaking profile. Windowed
// in-session state (recent confidences, interruption timestamps) is not
// persisted — only the slow-moving aggregates worth carrying across sessions.
type Profile struct {
	// UserID identifies the user this profile belongs to.
	UserID string

	// PreferredStyle is the response style the user settled on.
	PreferredStyle types.ResponseStyle

	// AvgConfidence is the long-run mean transcription confidence for this
	// user's speech, in [0, 1].
	AvgConfidence float64

	// InterruptionRate is interruptions per minute of conversation, averaged
	// across sessions.
	InterruptionRate float64

	// FrustrationBaseline is the frustration score the user's sessions tend
	// to settle at, in [0, 1].
	FrustrationBaseline float64

	// SessionCount is the number of sessions folded into the aggregates.
	SessionCount int

	// UpdatedAt is when the profile was last written.
	UpdatedAt time.Time
}

// ProfileStore persists user speaking profiles across sessions.
type ProfileStore interface {
	// GetProfile retrieves the profile for a user. It returns (nil, nil) when
	// no profile exists yet.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SaveProfile creates or replaces the user's profile.
	SaveProfile(ctx context.Context, p *Profile) error
}
