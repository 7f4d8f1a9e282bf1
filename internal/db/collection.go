package db

import (
	"context"

	"github.com/wakeguard/companion/internal/models"
)

// StatusCollection defines the operations on the per-subject status row.
type StatusCollection interface {
	// UpsertStatus writes the row for status.SubjectID in place. The write
	// only lands when the incoming captured_at is newer than the stored one,
	// so a late-arriving older sample cannot overwrite a newer row.
	UpsertStatus(ctx context.Context, status models.SubjectStatus) error
	// SetMode flips only the mode field, leaving position history untouched.
	SetMode(ctx context.Context, subjectID string, mode models.Mode) error
	FindStatus(ctx context.Context, subjectID string) (*models.SubjectStatus, error)
	FindStatuses(ctx context.Context, subjectIDs []string) ([]models.SubjectStatus, error)
}

// WarningCollection defines the operations on append-only warning events.
type WarningCollection interface {
	InsertWarning(ctx context.Context, warning models.WarningEvent) error
	// LatestWarnings returns the most recent warning per subject.
	LatestWarnings(ctx context.Context, subjectIDs []string) (map[string]models.WarningEvent, error)
	// CountUnacknowledged is a count-only aggregate for the badge; it never
	// materializes rows.
	CountUnacknowledged(ctx context.Context, subjectIDs []string) (int64, error)
}

// LinkCollection defines read access to subject/observer relationships.
type LinkCollection interface {
	AcceptedLinks(ctx context.Context, observerID string) ([]models.Link, error)
	CountPending(ctx context.Context, observerID string) (int64, error)
}

// UserCollection defines the profile lookups needed to render tracked
// subjects, plus the username lookup behind login.
type UserCollection interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}
