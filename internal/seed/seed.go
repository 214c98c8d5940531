// Package seed loads the embedded demo dataset into a bounty store.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
)

//go:embed seed.yaml
var defaultData []byte

// Data is the parsed seed document.
type Data struct {
	Users      []UserDoc      `yaml:"users"`
	Developers []DeveloperDoc `yaml:"developers"`
	Bugs       []BugDoc       `yaml:"bugs"`
}

// UserDoc is a non-developer account.
type UserDoc struct {
	ID    string      `yaml:"id"`
	Name  string      `yaml:"name"`
	Email string      `yaml:"email"`
	Role  models.Role `yaml:"role"`
}

// DeveloperDoc is a developer account with its profile.
type DeveloperDoc struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Skills       []string `yaml:"skills"`
	SuccessRate  float64  `yaml:"success_rate"`
	BugsResolved int      `yaml:"bugs_resolved"`
}

// ContributionDoc is one funding action replayed against a bug.
type ContributionDoc struct {
	Funder string  `yaml:"funder"`
	Amount float64 `yaml:"amount"`
}

// BugDoc describes a bug and the ledger history that produced its state.
type BugDoc struct {
	Title            string            `yaml:"title"`
	Description      string            `yaml:"description"`
	RepoLink         string            `yaml:"repo_link"`
	Logs             string            `yaml:"logs"`
	Tags             []string          `yaml:"tags"`
	Severity         models.Severity   `yaml:"severity"`
	ExpectedBehavior string            `yaml:"expected_behavior"`
	Author           string            `yaml:"author"`
	Bounty           float64           `yaml:"bounty"`
	Contributions    []ContributionDoc `yaml:"contributions"`
	Status           models.BugStatus  `yaml:"status"`
	Developer        string            `yaml:"developer"`
}

// Result summarizes what Apply wrote.
type Result struct {
	Skipped    bool
	Users      int
	Developers int
	Bugs       int
}

// Default returns the embedded demo dataset.
func Default() (*Data, error) {
	return Parse(defaultData)
}

// Parse decodes and checks a seed document.
func Parse(raw []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}
	for i, u := range d.Users {
		if u.ID == "" || strings.TrimSpace(u.Name) == "" {
			return nil, fmt.Errorf("users[%d]: id and name are required", i)
		}
		if !u.Role.Valid() || u.Role == models.RoleDeveloper {
			return nil, fmt.Errorf("users[%d]: invalid role %q", i, u.Role)
		}
	}
	for i, dev := range d.Developers {
		if dev.ID == "" || strings.TrimSpace(dev.Name) == "" {
			return nil, fmt.Errorf("developers[%d]: id and name are required", i)
		}
	}
	for i, b := range d.Bugs {
		if b.Status == "" {
			d.Bugs[i].Status = models.BugStatusOpen
		} else if !b.Status.Valid() {
			return nil, fmt.Errorf("bugs[%d]: unknown status %q", i, b.Status)
		}
		if needsDeveloper(d.Bugs[i].Status) && b.Developer == "" {
			return nil, fmt.Errorf("bugs[%d]: status %s requires a developer", i, b.Status)
		}
	}
	return &d, nil
}

func needsDeveloper(s models.BugStatus) bool {
	return s == models.BugStatusClaimed || s == models.BugStatusInReview || s == models.BugStatusResolved
}

// Apply writes d through the ledger. It does nothing when the store already
// has users, so seeding an existing database is safe.
func Apply(ctx context.Context, l *ledger.Ledger, d *Data) (Result, error) {
	s := l.Store()

	existing, err := s.ListUsers(ctx, "")
	if err != nil {
		return Result{}, fmt.Errorf("check existing users: %w", err)
	}
	if len(existing) > 0 {
		return Result{Skipped: true}, nil
	}

	var res Result
	for _, u := range d.Users {
		err := s.UpsertUser(ctx, &models.User{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      u.Role,
			AvatarURL: models.AvatarForName(strings.Fields(u.Name)[0]),
		})
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		res.Users++
	}

	for _, dev := range d.Developers {
		err := s.UpsertUser(ctx, &models.User{
			ID:           dev.ID,
			Name:         dev.Name,
			Email:        strings.ReplaceAll(strings.ToLower(dev.Name), " ", ".") + "@dev.io",
			Role:         models.RoleDeveloper,
			AvatarURL:    models.AvatarForName(dev.Name),
			Skills:       dev.Skills,
			SuccessRate:  dev.SuccessRate,
			BugsResolved: dev.BugsResolved,
		})
		if err != nil {
			return res, fmt.Errorf("seed developer %s: %w", dev.ID, err)
		}
		res.Developers++
	}

	for i, b := range d.Bugs {
		if err := replayBug(ctx, l, b); err != nil {
			return res, fmt.Errorf("seed bugs[%d] %q: %w", i, b.Title, err)
		}
		res.Bugs++
	}
	return res, nil
}

// replayBug creates the bug and drives it to its declared status using only
// ledger operations.
func replayBug(ctx context.Context, l *ledger.Ledger, b BugDoc) error {
	bug, err := l.CreateBug(ctx, models.BugDraft{
		Title:            b.Title,
		Description:      b.Description,
		RepoLink:         b.RepoLink,
		Logs:             b.Logs,
		Tags:             b.Tags,
		Severity:         b.Severity,
		ExpectedBehavior: b.ExpectedBehavior,
		AuthorID:         b.Author,
	})
	if err != nil {
		return err
	}

	if b.Bounty > 0 {
		if bug, err = l.SetBounty(ctx, bug.ID, b.Bounty); err != nil {
			return err
		}
	}
	for _, c := range b.Contributions {
		if bug, err = l.FundBug(ctx, bug.ID, c.Funder, c.Amount); err != nil {
			return err
		}
	}

	if needsDeveloper(b.Status) {
		if bug, err = l.ClaimBug(ctx, bug.ID, b.Developer); err != nil {
			return err
		}
	}
	if b.Status == models.BugStatusInReview || b.Status == models.BugStatusResolved {
		if bug, err = l.SubmitForReview(ctx, bug.ID); err != nil {
			return err
		}
	}
	if b.Status == models.BugStatusResolved {
		if bug, err = l.ResolveBug(ctx, bug.ID, true); err != nil {
			return err
		}
	}

	if bug.Status != b.Status {
		return fmt.Errorf("replay ended in %s, want %s", bug.Status, b.Status)
	}
	return nil
}
