package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/joescharf/bounty/internal/models"
)

// BugListFilter specifies filters for listing bugs.
type BugListFilter struct {
	Status      models.BugStatus
	Severity    models.Severity
	AuthorID    string
	DeveloperID string
	Tag         string
}

// Matches reports whether b passes every non-empty filter field.
func (f BugListFilter) Matches(b *models.Bug) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Severity != "" && b.Severity != f.Severity {
		return false
	}
	if f.AuthorID != "" && b.AuthorID != f.AuthorID {
		return false
	}
	if f.DeveloperID != "" && b.AssignedDeveloperID != f.DeveloperID {
		return false
	}
	if f.Tag != "" && !slices.Contains(b.Tags, f.Tag) {
		return false
	}
	return true
}

// ContributionFilter specifies filters for listing contributions.
type ContributionFilter struct {
	BugID    string
	FunderID string
}

// MutateFunc inspects and mutates a bug under its exclusive lock.
// Returning an error aborts the write and leaves the stored bug untouched.
type MutateFunc func(b *models.Bug) error

// Writes holds the records committed in the same transaction as a bug
// mutation. Nil or empty fields write nothing.
type Writes struct {
	Contribution *models.Contribution
	Verification *models.Verification
	// CreditResolved names a user whose bugs_resolved count goes up by one.
	// Unknown users are skipped.
	CreditResolved string
}

// WriteFunc is a MutateFunc that can also queue related writes.
type WriteFunc func(b *models.Bug, w *Writes) error

// stamp fills in ids and timestamps on queued records.
func (w *Writes) stamp(now time.Time) {
	if c := w.Contribution; c != nil {
		if c.ID == "" {
			c.ID = newULID()
		}
		c.CreatedAt = now
	}
	if v := w.Verification; v != nil {
		if v.ID == "" {
			v.ID = newULID()
		}
		v.CreatedAt = now
	}
}

// Store defines the persistence interface for the bounty ledger.
//
// Writers on the same bug are serialized by UpdateBug, UpdateBugWith and
// ApplyContribution; readers never observe a partially applied mutation.
type Store interface {
	// Bugs
	CreateBug(ctx context.Context, bug *models.Bug) error
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
	UpdateBug(ctx context.Context, id string, fn MutateFunc) (*models.Bug, error)
	UpdateBugWith(ctx context.Context, id string, fn WriteFunc) (*models.Bug, error)

	// Contributions
	ApplyContribution(ctx context.Context, c *models.Contribution, fn MutateFunc) (*models.Bug, error)
	ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error)

	// Users
	UpsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, role models.Role) ([]*models.User, error)

	// Verifications
	CreateVerification(ctx context.Context, v *models.Verification) error
	ListVerifications(ctx context.Context, bugID string) ([]*models.Verification, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func bugNotFound(id string) error {
	return fmt.Errorf("bug %s: %w", id, models.ErrNotFound)
}

func userNotFound(id string) error {
	return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
}
