package models

// ImpactScore breaks an analysis impact estimate into its components (each 0-100).
type ImpactScore struct {
	UserImpact float64 `json:"userImpact"`
	Severity   float64 `json:"severity"`
	Urgency    float64 `json:"urgency"`
	Popularity float64 `json:"popularity"`
}

// Analysis is the output of the bug analysis provider.
type Analysis struct {
	BugID           string      `json:"bugId"`
	Category        string      `json:"category"`
	Complexity      string      `json:"complexity"`
	ComplexityScore float64     `json:"complexityScore"`
	EstimatedBounty float64     `json:"estimatedBounty"`
	ConfidenceScore float64     `json:"confidenceScore"`
	ImpactScore     ImpactScore `json:"impactScore"`
	PriorityScore   float64     `json:"priorityScore"`
	NLPSummary      string      `json:"nlpSummary"`
	ErrorClusters   []string    `json:"errorClusters"`
	LogInsights     []string    `json:"logInsights"`
}

// DeveloperMatch is a developer ranked against a bug.
type DeveloperMatch struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Skills       []string `json:"skills"`
	SuccessRate  float64  `json:"successRate"`
	BugsResolved int      `json:"bugsResolved"`
	AvatarURL    string   `json:"avatarUrl,omitempty"`
	MatchScore   float64  `json:"matchScore"`
}
