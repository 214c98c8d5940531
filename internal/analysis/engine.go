// Package analysis scores bugs and ranks developers with keyword heuristics.
// Results are deterministic for a given bug.
package analysis

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/joescharf/bounty/internal/digest"
	"github.com/joescharf/bounty/internal/models"
)

type category struct {
	name     string
	keywords []string
}

// categories are checked in order; the first best score wins ties.
var categories = []category{
	{"Authentication / Security", []string{"auth", "jwt", "token", "login", "password", "session", "oauth", "security", "permission", "401", "403", "credential"}},
	{"Payment Gateway Integration", []string{"payment", "stripe", "billing", "invoice", "charge", "webhook", "currency", "checkout", "transaction"}},
	{"UI / Frontend", []string{"css", "ui", "frontend", "react", "component", "render", "layout", "mobile", "responsive", "z-index", "animation", "dom"}},
	{"Memory Management / Infrastructure", []string{"memory", "leak", "oom", "heap", "buffer", "gc", "worker", "kubernetes", "docker", "infra", "devops", "crash"}},
	{"Database / Data Layer", []string{"database", "sql", "query", "orm", "migration", "index", "postgres", "mysql", "mongo", "redis"}},
	{"API / Backend", []string{"api", "endpoint", "rest", "graphql", "backend", "server", "route", "middleware", "cors", "500"}},
	{"Performance", []string{"slow", "latency", "timeout", "performance", "cache", "optimize", "bottleneck", "throughput"}},
}

const defaultCategory = "General Bug"

var severityWeights = map[models.Severity]float64{
	models.SeverityLow:      0.2,
	models.SeverityMedium:   0.5,
	models.SeverityHigh:     0.8,
	models.SeverityCritical: 1.0,
}

var bountyMultipliers = map[models.Severity]float64{
	models.SeverityLow:      0.5,
	models.SeverityMedium:   1.0,
	models.SeverityHigh:     1.8,
	models.SeverityCritical: 3.0,
}

var complexKeywords = []string{
	"memory", "leak", "crash", "infinite", "loop", "deadlock",
	"race condition", "concurrent", "heap", "oom", "segfault",
}

var (
	userKeywords    = []string{"user", "customer", "client", "login", "payment", "checkout"}
	urgencyKeywords = []string{"critical", "urgent", "crash", "down", "block", "broken"}
)

type pattern struct {
	name    string
	matches []string
}

var errorPatterns = []pattern{
	{"TypeError", []string{"typeerror", "cannot read propert", "undefined is not"}},
	{"401 Unauthorized", []string{"401", "unauthorized", "authentication failed"}},
	{"500 Server Error", []string{"500", "internal server error"}},
	{"Infinite Redirect", []string{"redirect", "loop", "infinite"}},
	{"JWT Expiration", []string{"jwt", "token expired", "refresh token"}},
	{"Webhook Failure", []string{"webhook", "callback fail"}},
	{"Data Parsing", []string{"parse", "json", "deserializ"}},
	{"OOM Crash", []string{"oom", "out of memory", "heap limit"}},
	{"Buffer Retention", []string{"buffer", "stream", "unclosed"}},
	{"Worker Dying", []string{"worker", "process exit", "signal"}},
	{"Timeout", []string{"timeout", "timed out", "deadline"}},
	{"Connection Error", []string{"connection refused", "econnrefused", "network"}},
}

var logRules = []struct {
	keyword string
	insight string
}{
	{"redirect", "Detected redirect loop pattern in log output."},
	{"401", "Authentication failure (401) detected, check token lifecycle."},
	{"500", "Server error (500) detected, check server-side exception handlers."},
	{"undefined", "Accessing undefined value, missing null check or data validation."},
	{"timeout", "Timeout detected, check service connectivity and retry logic."},
	{"heap", "Heap-related issue, possible memory leak or large allocation."},
	{"oom", "Out of memory condition, investigate buffer/stream management."},
	{"touppercase", "Calling method on potentially undefined value, add type guard."},
	{"fatal error", "Fatal error detected, process stability at risk."},
	{"mark-compacts", "V8 mark-compacts failing near heap limit, severe memory pressure."},
}

// Engine produces analyses and developer rankings. The zero value is ready to use.
type Engine struct{}

// Analyze scores b.
func (Engine) Analyze(b *models.Bug) models.Analysis {
	text := strings.ToLower(fmt.Sprintf("%s %s %s %s", b.Title, b.Description, b.Logs, strings.Join(b.Tags, " ")))
	severity := b.Severity
	if _, ok := severityWeights[severity]; !ok {
		severity = models.SeverityMedium
	}

	cat := categorize(text, b.Tags)
	score := complexityScore(text, severity, b.Logs)
	label := complexityLabel(score)
	impact := impactScore(text, severity, b.ID)

	return models.Analysis{
		BugID:           b.ID,
		Category:        cat,
		Complexity:      label,
		ComplexityScore: round1(score),
		EstimatedBounty: estimateBounty(score, severity),
		ConfidenceScore: confidence(text, b.Logs),
		ImpactScore:     impact,
		PriorityScore:   priority(score, severity, impact),
		NLPSummary:      summary(b.Title, cat, label, severity),
		ErrorClusters:   errorClusters(text, b.Logs),
		LogInsights:     logInsights(b.Logs),
	}
}

// Match ranks developers against b, best first. Ties keep input order.
func (Engine) Match(b *models.Bug, developers []*models.User) []models.DeveloperMatch {
	tags := make([]string, 0, len(b.Tags))
	for _, t := range b.Tags {
		tags = append(tags, strings.ToLower(t))
	}
	slices.Sort(tags)
	tags = slices.Compact(tags)

	matches := make([]models.DeveloperMatch, 0, len(developers))
	for _, dev := range developers {
		overlap := 0
		seen := map[string]bool{}
		for _, s := range dev.Skills {
			s = strings.ToLower(s)
			if !seen[s] && slices.Contains(tags, s) {
				overlap++
			}
			seen[s] = true
		}
		skill := float64(overlap) / float64(max(len(tags), 1)) * 60
		reputation := dev.SuccessRate / 100 * 25
		experience := math.Min(float64(dev.BugsResolved)/50, 1) * 10
		jitter := -5 + float64(digest.Uint64(b.ID, dev.ID)%1001)/100

		total := clamp(skill+reputation+experience+jitter, 0, 100)
		matches = append(matches, models.DeveloperMatch{
			ID:           dev.ID,
			Name:         dev.Name,
			Skills:       slices.Clone(dev.Skills),
			SuccessRate:  dev.SuccessRate,
			BugsResolved: dev.BugsResolved,
			AvatarURL:    dev.AvatarURL,
			MatchScore:   round1(total),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches
}

func categorize(text string, tags []string) string {
	combined := strings.ToLower(text + " " + strings.Join(tags, " "))
	best, bestScore := defaultCategory, 0
	for _, c := range categories {
		if n := countContained(combined, c.keywords); n > bestScore {
			best, bestScore = c.name, n
		}
	}
	return best
}

func complexityScore(text string, severity models.Severity, logs string) float64 {
	base := severityWeights[severity] * 40
	textFactor := math.Min(float64(len(text))/500, 1) * 20
	var logFactor float64
	if logs != "" {
		logFactor = math.Min(float64(len(logs))/200, 1) * 15
	}
	keywordFactor := math.Min(float64(countContained(text, complexKeywords)*5), 25)
	return math.Min(100, base+textFactor+logFactor+keywordFactor)
}

func complexityLabel(score float64) string {
	switch {
	case score < 30:
		return "Low"
	case score < 60:
		return "Medium"
	case score < 85:
		return "High"
	default:
		return "Extreme"
	}
}

// estimateBounty rounds to the nearest 25.
func estimateBounty(score float64, severity models.Severity) float64 {
	raw := score * 3 * bountyMultipliers[severity]
	return math.Round(raw/25) * 25
}

func confidence(text, logs string) float64 {
	textScore := math.Min(float64(len(text))/300, 1) * 50
	var logScore float64
	if logs != "" {
		logScore = math.Min(float64(len(logs))/100, 1) * 30
	}
	return round1(math.Min(100, 20+textScore+logScore))
}

func impactScore(text string, severity models.Severity, bugID string) models.ImpactScore {
	weight := severityWeights[severity]
	userImpact := math.Min(100, weight*60+float64(countContained(text, userKeywords))*15)
	urgency := math.Min(100, weight*50+float64(countContained(text, urgencyKeywords))*20)
	popularity := 30 + float64(digest.Uint64(bugID)%51)

	return models.ImpactScore{
		UserImpact: math.Round(userImpact),
		Severity:   math.Round(weight * 100),
		Urgency:    math.Round(urgency),
		Popularity: popularity,
	}
}

func priority(complexity float64, severity models.Severity, impact models.ImpactScore) float64 {
	avg := (impact.UserImpact + impact.Severity + impact.Urgency + impact.Popularity) / 4
	p := severityWeights[severity]*40 + avg*0.4 + complexity*0.2
	return round1(math.Min(100, p))
}

func summary(title, cat, complexity string, severity models.Severity) string {
	return fmt.Sprintf("This is a %s-severity issue in the %s domain. Analysis indicates %s complexity. "+
		"The issue '%s' requires targeted investigation and a fix addressing the root cause identified in the error patterns.",
		strings.ToLower(string(severity)), strings.ToLower(cat), strings.ToLower(complexity), title)
}

func errorClusters(text, logs string) []string {
	combined := strings.ToLower(text + " " + logs)
	var clusters []string
	for _, p := range errorPatterns {
		if countContained(combined, p.matches) > 0 {
			clusters = append(clusters, p.name)
		}
	}
	if len(clusters) == 0 {
		return []string{"Uncategorized Error"}
	}
	return clusters
}

func logInsights(logs string) []string {
	if strings.TrimSpace(logs) == "" {
		return []string{"No log data provided for analysis."}
	}
	lower := strings.ToLower(logs)
	var insights []string
	for _, r := range logRules {
		if strings.Contains(lower, r.keyword) {
			insights = append(insights, r.insight)
		}
	}
	if len(insights) == 0 {
		return []string{"Log data present but no specific patterns matched."}
	}
	return insights
}

func countContained(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
