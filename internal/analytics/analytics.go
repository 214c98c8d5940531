// Package analytics aggregates marketplace-wide statistics.
package analytics

import (
	"context"
	"math"
	"sort"

	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

const (
	topDeveloperLimit = 10
	recentBugLimit    = 5
)

// Dashboard is the aggregate view served to the analytics page.
type Dashboard struct {
	TotalBugs          int                      `json:"totalBugs"`
	ResolvedBugs       int                      `json:"resolvedBugs"`
	ResolvedPercentage float64                  `json:"resolvedPercentage"`
	TotalFunding       float64                  `json:"totalFunding"`
	AverageBounty      float64                  `json:"averageBounty"`
	BugsBySeverity     map[models.Severity]int  `json:"bugsBySeverity"`
	BugsByStatus       map[models.BugStatus]int `json:"bugsByStatus"`
	TopDevelopers      []*models.User           `json:"topDevelopers"`
	RecentBugs         []*models.Bug            `json:"recentBugs"`
}

// Build computes the dashboard from the current contents of s.
func Build(ctx context.Context, s store.Store) (*Dashboard, error) {
	bugs, err := s.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return nil, err
	}
	devs, err := s.ListUsers(ctx, models.RoleDeveloper)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		TotalBugs:      len(bugs),
		BugsBySeverity: make(map[models.Severity]int, len(models.Severities)),
		BugsByStatus:   make(map[models.BugStatus]int, len(models.BugStatuses)),
		TopDevelopers:  []*models.User{},
		RecentBugs:     []*models.Bug{},
	}
	for _, sev := range models.Severities {
		d.BugsBySeverity[sev] = 0
	}
	for _, st := range models.BugStatuses {
		d.BugsByStatus[st] = 0
	}

	var bountySum float64
	for _, b := range bugs {
		if b.Status == models.BugStatusResolved {
			d.ResolvedBugs++
		}
		d.TotalFunding += b.FundsRaised
		bountySum += b.Bounty
		d.BugsBySeverity[b.Severity]++
		d.BugsByStatus[b.Status]++
	}
	if d.TotalBugs > 0 {
		d.ResolvedPercentage = round(float64(d.ResolvedBugs)/float64(d.TotalBugs)*100, 1)
		d.AverageBounty = round(bountySum/float64(d.TotalBugs), 2)
	}

	// Bugs come back newest first.
	d.RecentBugs = append(d.RecentBugs, bugs[:min(recentBugLimit, len(bugs))]...)

	sort.SliceStable(devs, func(i, j int) bool {
		return devs[i].BugsResolved > devs[j].BugsResolved
	})
	d.TopDevelopers = append(d.TopDevelopers, devs[:min(topDeveloperLimit, len(devs))]...)

	return d, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
