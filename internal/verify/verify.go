// Package verify simulates pull request verification for bugs under review.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/bounty/internal/digest"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
)

// PassThreshold is the similarity a fix must exceed to pass.
const PassThreshold = 75.0

// Result is the outcome of scoring a pull request.
type Result struct {
	SimilarityScore float64
	Passed          bool
	DiffSummary     string
}

// Score rates a pull request link. The same link always scores the same.
// Similarity falls in [60, 99].
func Score(prLink string) Result {
	similarity := 60 + float64(digest.Uint64(prLink)%3901)/100
	files := 1 + digest.Uint64("files", prLink)%15
	lines := 5 + digest.Uint64("lines", prLink)%196

	sentences := []string{
		fmt.Sprintf("Modified %d files with %d line changes.", files, lines),
		"Key changes in error handling and validation logic.",
		"Added unit tests covering the reported scenario.",
		"Refactored affected module for better error isolation.",
	}
	// Keep three of the four; the file summary always leads.
	drop := 1 + int(digest.Uint64("drop", prLink)%3)
	kept := make([]string, 0, 3)
	for i, s := range sentences {
		if i != drop {
			kept = append(kept, s)
		}
	}

	return Result{
		SimilarityScore: similarity,
		Passed:          similarity > PassThreshold,
		DiffSummary:     strings.Join(kept, " "),
	}
}

type request struct {
	BugID       string `validate:"required"`
	DeveloperID string `validate:"required"`
	PRLink      string `validate:"required,url"`
}

// Verifier records verification runs and resolves the bug with the outcome.
type Verifier struct {
	ledger   *ledger.Ledger
	validate *ledger.Validator
}

// New creates a Verifier.
func New(l *ledger.Ledger) *Verifier {
	return &Verifier{ledger: l, validate: ledger.NewValidator()}
}

// Verify scores prLink as the fix for bugID. Only the assigned developer may
// verify, and only while the bug is In Review. A passing score resolves the
// bug; a failing one returns it to Claimed. The run is recorded only when the
// outcome is applied.
func (v *Verifier) Verify(ctx context.Context, bugID, developerID, prLink string) (*models.Verification, *models.Bug, error) {
	if err := v.validate.Struct(request{BugID: bugID, DeveloperID: developerID, PRLink: prLink}); err != nil {
		return nil, nil, err
	}

	res := Score(prLink)
	rec := &models.Verification{
		BugID:           bugID,
		DeveloperID:     developerID,
		PRLink:          prLink,
		SimilarityScore: res.SimilarityScore,
		Passed:          res.Passed,
		DiffSummary:     res.DiffSummary,
	}
	bug, err := v.ledger.RecordVerification(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, bug, nil
}

// History lists the verification runs for a bug, oldest first.
func (v *Verifier) History(ctx context.Context, bugID string) ([]*models.Verification, error) {
	if _, err := v.ledger.GetBug(ctx, bugID); err != nil {
		return nil, err
	}
	return v.ledger.Store().ListVerifications(ctx, bugID)
}
