package models

import "time"

// Verification records a single automated check of a submitted fix.
type Verification struct {
	ID              string    `json:"id" db:"id"`
	BugID           string    `json:"bugId" db:"bug_id"`
	DeveloperID     string    `json:"developerId" db:"developer_id"`
	PRLink          string    `json:"prLink" db:"pr_link"`
	SimilarityScore float64   `json:"similarityScore" db:"similarity_score"`
	Passed          bool      `json:"passed" db:"passed"`
	DiffSummary     string    `json:"diffSummary" db:"diff_summary"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
