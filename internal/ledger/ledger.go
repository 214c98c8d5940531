// Package ledger implements bug funding and the bug lifecycle on top of a Store.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

// Ledger is the single entry point for every bug mutation. Each mutating call
// returns the bug as committed.
type Ledger struct {
	store    store.Store
	validate *Validator
}

// New creates a Ledger backed by s.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, validate: NewValidator()}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store {
	return l.store
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("amount %v must be a positive number: %w", amount, models.ErrInvalidAmount)
	}
	return nil
}

// ListBugs returns bugs matching filter, newest first.
func (l *Ledger) ListBugs(ctx context.Context, filter store.BugListFilter) ([]*models.Bug, error) {
	return l.store.ListBugs(ctx, filter)
}

// GetBug returns the bug with the given id.
func (l *Ledger) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	return l.store.GetBug(ctx, id)
}

// CreateBug validates draft and stores a new Open bug with no funding.
func (l *Ledger) CreateBug(ctx context.Context, draft models.BugDraft) (*models.Bug, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	if err := l.validate.Struct(draft); err != nil {
		return nil, err
	}

	severity := draft.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	tags := draft.Tags
	if tags == nil {
		tags = []string{}
	}

	bug := &models.Bug{
		Title:            draft.Title,
		Description:      draft.Description,
		RepoLink:         draft.RepoLink,
		Logs:             draft.Logs,
		Tags:             tags,
		Severity:         severity,
		ExpectedBehavior: draft.ExpectedBehavior,
		Status:           models.BugStatusOpen,
		AuthorID:         draft.AuthorID,
	}
	if err := l.store.CreateBug(ctx, bug); err != nil {
		return nil, err
	}
	return bug, nil
}

// FundBug records a contribution of amount from funderID and applies it to the
// bug. The amount is checked before the bug is looked up.
func (l *Ledger) FundBug(ctx context.Context, id, funderID string, amount float64) (*models.Bug, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if funderID == "" {
		return nil, &models.ValidationError{Field: "funderId", Message: "funder is required"}
	}

	c := &models.Contribution{BugID: id, FunderID: funderID, Amount: amount}
	return l.store.ApplyContribution(ctx, c, func(b *models.Bug) error {
		if !b.Status.Fundable() {
			return fmt.Errorf("bug %s is %s: %w", b.ID, b.Status, models.ErrNotFundable)
		}
		b.FundsRaised += amount
		b.Contributors++
		applyFundingPolicy(b)
		return nil
	})
}

// SetBounty sets the target bounty once. An Open bug that has already raised
// enough becomes Funded immediately.
func (l *Ledger) SetBounty(ctx context.Context, id string, amount float64) (*models.Bug, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return l.store.UpdateBug(ctx, id, func(b *models.Bug) error {
		if !b.Status.Fundable() {
			return fmt.Errorf("bug %s is %s: %w", b.ID, b.Status, models.ErrNotFundable)
		}
		if b.Bounty > 0 {
			return fmt.Errorf("bounty for %s already set to %.2f: %w", b.ID, b.Bounty, models.ErrInvalidTransition)
		}
		b.Bounty = amount
		applyFundingPolicy(b)
		return nil
	})
}

// ClaimBug assigns the bug to developerID.
func (l *Ledger) ClaimBug(ctx context.Context, id, developerID string) (*models.Bug, error) {
	if developerID == "" {
		return nil, &models.ValidationError{Field: "developerId", Message: "developer is required"}
	}
	return l.store.UpdateBug(ctx, id, func(b *models.Bug) error {
		next, err := Next(b.Status, EventClaim)
		if err != nil {
			return err
		}
		b.Status = next
		b.AssignedDeveloperID = developerID
		return nil
	})
}

// SubmitForReview moves a claimed bug into review.
func (l *Ledger) SubmitForReview(ctx context.Context, id string) (*models.Bug, error) {
	return l.store.UpdateBug(ctx, id, func(b *models.Bug) error {
		next, err := Next(b.Status, EventSubmit)
		if err != nil {
			return err
		}
		b.Status = next
		return nil
	})
}

// ResolveBug closes a bug under review. A failed review hands the bug back to
// the assigned developer in Claimed. A passing review also credits the
// developer's resolved count, in the same write, when the developer is a
// known user.
func (l *Ledger) ResolveBug(ctx context.Context, id string, passed bool) (*models.Bug, error) {
	return l.store.UpdateBugWith(ctx, id, func(b *models.Bug, w *store.Writes) error {
		return resolve(b, w, passed)
	})
}

// RecordVerification stores the verification run v and resolves its bug with
// v.Passed in one write. The bug must be In Review and assigned to
// v.DeveloperID; otherwise nothing is recorded.
func (l *Ledger) RecordVerification(ctx context.Context, v *models.Verification) (*models.Bug, error) {
	return l.store.UpdateBugWith(ctx, v.BugID, func(b *models.Bug, w *store.Writes) error {
		if b.Status != models.BugStatusInReview {
			return fmt.Errorf("bug %s is %s, not %s: %w", b.ID, b.Status, models.BugStatusInReview, models.ErrInvalidTransition)
		}
		if b.AssignedDeveloperID != v.DeveloperID {
			return fmt.Errorf("bug %s is assigned to another developer: %w", b.ID, models.ErrForbidden)
		}
		if err := resolve(b, w, v.Passed); err != nil {
			return err
		}
		w.Verification = v
		return nil
	})
}

func resolve(b *models.Bug, w *store.Writes, passed bool) error {
	ev := EventResolveFail
	if passed {
		ev = EventResolvePass
	}
	next, err := Next(b.Status, ev)
	if err != nil {
		return err
	}
	b.Status = next
	if passed {
		w.CreditResolved = b.AssignedDeveloperID
	}
	return nil
}

// Contributions returns the funding history of a bug, oldest first.
func (l *Ledger) Contributions(ctx context.Context, bugID string) ([]*models.Contribution, error) {
	if _, err := l.store.GetBug(ctx, bugID); err != nil {
		return nil, err
	}
	return l.store.ListContributions(ctx, store.ContributionFilter{BugID: bugID})
}

// FundedBy returns the total amount funderID has contributed across all bugs.
func (l *Ledger) FundedBy(ctx context.Context, funderID string) (float64, error) {
	list, err := l.store.ListContributions(ctx, store.ContributionFilter{FunderID: funderID})
	if err != nil {
		return 0, err
	}
	var total float64
	for _, c := range list {
		total += c.Amount
	}
	return total, nil
}
