// Package learner holds the per-user row the rest of the engine hangs off:
// display name, account creation time and the denormalized points total.
package learner

import (
	"context"
	"strings"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Learner is a user as seen by the engine. Identity lives elsewhere; the row
// is created the first time a user produces an event.
type Learner struct {
	ID          shared.UserID `json:"id"`
	DisplayName string        `json:"display_name"`

	// TotalPoints mirrors the sum of the learner's ledger rows. The ledger is
	// authoritative; this copy exists for fast reads.
	TotalPoints int `json:"total_points"`

	// CreatedAt is the leaderboard tie-break key.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const maxDisplayNameLength = 64

// New builds a learner, falling back to the ID for an empty display name.
func New(id shared.UserID, displayName string, now time.Time) (*Learner, error) {
	if !id.IsValid() {
		return nil, shared.ErrNoUserContext
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = id.String()
	}
	if len(name) > maxDisplayNameLength {
		name = name[:maxDisplayNameLength]
	}
	return &Learner{
		ID:          id,
		DisplayName: name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Repository persists learners.
type Repository interface {
	// Ensure inserts the learner if absent and returns the stored row. An
	// existing row is returned unchanged.
	Ensure(ctx context.Context, l *Learner) (*Learner, error)

	// Get returns shared.ErrLearnerNotFound for unknown IDs.
	Get(ctx context.Context, id shared.UserID) (*Learner, error)
}
