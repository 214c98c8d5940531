package ledger

import (
	"fmt"

	"github.com/joescharf/bounty/internal/models"
)

// Event is a lifecycle operation applied to a bug.
type Event string

const (
	EventClaim       Event = "claim"
	EventSubmit      Event = "submit"
	EventResolvePass Event = "resolve_pass"
	EventResolveFail Event = "resolve_fail"
)

// transitions is the complete lifecycle table. Any (status, event) pair not
// listed here is rejected.
var transitions = map[models.BugStatus]map[Event]models.BugStatus{
	models.BugStatusOpen: {
		EventClaim: models.BugStatusClaimed,
	},
	models.BugStatusFunded: {
		EventClaim: models.BugStatusClaimed,
	},
	models.BugStatusClaimed: {
		EventSubmit: models.BugStatusInReview,
	},
	models.BugStatusInReview: {
		EventResolvePass: models.BugStatusResolved,
		EventResolveFail: models.BugStatusClaimed,
	},
}

// Next returns the status reached by applying ev to from.
func Next(from models.BugStatus, ev Event) (models.BugStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("cannot %s a bug that is %s: %w", ev, from, models.ErrInvalidTransition)
}

// Allowed lists the events accepted from the given status.
func Allowed(from models.BugStatus) []Event {
	var out []Event
	for _, ev := range []Event{EventClaim, EventSubmit, EventResolvePass, EventResolveFail} {
		if _, ok := transitions[from][ev]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// applyFundingPolicy promotes an Open bug to Funded once its bounty is met.
func applyFundingPolicy(b *models.Bug) {
	if b.Status == models.BugStatusOpen && b.Bounty > 0 && b.FundsRaised >= b.Bounty {
		b.Status = models.BugStatusFunded
	}
}
