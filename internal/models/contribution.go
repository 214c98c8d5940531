package models

import "time"

// Contribution is a single accepted funding action against a bug.
type Contribution struct {
	ID        string    `json:"id" db:"id"`
	BugID     string    `json:"bugId" db:"bug_id"`
	FunderID  string    `json:"funderId" db:"funder_id"`
	Amount    float64   `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
