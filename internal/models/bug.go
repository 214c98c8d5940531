package models

import (
	"slices"
	"time"
)

// BugStatus represents the lifecycle state of a bug.
type BugStatus string

const (
	BugStatusOpen     BugStatus = "Open"
	BugStatusFunded   BugStatus = "Funded"
	BugStatusClaimed  BugStatus = "Claimed"
	BugStatusInReview BugStatus = "In Review"
	BugStatusResolved BugStatus = "Resolved"
)

// BugStatuses lists every status in lifecycle order.
var BugStatuses = []BugStatus{
	BugStatusOpen,
	BugStatusFunded,
	BugStatusClaimed,
	BugStatusInReview,
	BugStatusResolved,
}

// Valid reports whether s is a known status.
func (s BugStatus) Valid() bool {
	return slices.Contains(BugStatuses, s)
}

// Fundable reports whether a bug in this status still accepts contributions.
func (s BugStatus) Fundable() bool {
	return s == BugStatusOpen || s == BugStatusFunded
}

// Severity is the reporter-assigned impact of a bug.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists every severity from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return slices.Contains(Severities, s)
}

// Bug is a reported defect with a crowdfunded bounty.
type Bug struct {
	ID                  string    `json:"id" db:"id"`
	Title               string    `json:"title" db:"title"`
	Description         string    `json:"description" db:"description"`
	RepoLink            string    `json:"repoLink" db:"repo_link"`
	Logs                string    `json:"logs,omitempty" db:"logs"`
	Tags                []string  `json:"tags" db:"-"`
	Severity            Severity  `json:"severity" db:"severity"`
	ExpectedBehavior    string    `json:"expectedBehavior" db:"expected_behavior"`
	Status              BugStatus `json:"status" db:"status"`
	Bounty              float64   `json:"bounty" db:"bounty"`
	FundsRaised         float64   `json:"fundsRaised" db:"funds_raised"`
	Contributors        int       `json:"contributors" db:"contributors"`
	AuthorID            string    `json:"authorId" db:"author_id"`
	AssignedDeveloperID string    `json:"assignedDeveloperId,omitempty" db:"assigned_developer_id"`
	AIScore             *float64  `json:"aiScore,omitempty" db:"ai_score"`
	Category            string    `json:"category,omitempty" db:"category"`
	Complexity          string    `json:"complexity,omitempty" db:"complexity"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy of the bug.
func (b *Bug) Clone() *Bug {
	c := *b
	c.Tags = slices.Clone(b.Tags)
	if b.AIScore != nil {
		score := *b.AIScore
		c.AIScore = &score
	}
	return &c
}

// BugDraft holds the reporter-supplied fields for a new bug.
type BugDraft struct {
	Title            string   `json:"title" validate:"required,max=200"`
	Description      string   `json:"description" validate:"required"`
	RepoLink         string   `json:"repoLink" validate:"omitempty,url"`
	Logs             string   `json:"logs"`
	Tags             []string `json:"tags" validate:"dive,required"`
	Severity         Severity `json:"severity" validate:"omitempty,oneof=Low Medium High Critical"`
	ExpectedBehavior string   `json:"expectedBehavior"`
	AuthorID         string   `json:"authorId" validate:"required"`
}
