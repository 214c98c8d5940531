package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

func TestDefault_Parses(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)
	assert.Len(t, d.Users, 4)
	assert.Len(t, d.Developers, 5)
	assert.NotEmpty(t, d.Bugs)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "users: [::"},
		{"user without id", "users:\n  - name: Ann\n    role: User\n"},
		{"developer role in users", "users:\n  - id: u\n    name: Ann\n    role: Developer\n"},
		{"unknown status", "bugs:\n  - title: x\n    status: Closed\n"},
		{"claimed without developer", "bugs:\n  - title: x\n    status: Claimed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_DefaultsStatus(t *testing.T) {
	d, err := Parse([]byte("bugs:\n  - title: x\n"))
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusOpen, d.Bugs[0].Status)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := ledger.New(s)

	d, err := Default()
	require.NoError(t, err)

	res, err := Apply(ctx, l, d)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 4, res.Users)
	assert.Equal(t, 5, res.Developers)
	assert.Equal(t, len(d.Bugs), res.Bugs)

	bugs, err := s.ListBugs(ctx, store.BugListFilter{})
	require.NoError(t, err)
	require.Len(t, bugs, len(d.Bugs))

	byTitle := make(map[string]*models.Bug)
	for _, b := range bugs {
		byTitle[b.Title] = b
	}
	for _, doc := range d.Bugs {
		b := byTitle[doc.Title]
		require.NotNil(t, b, doc.Title)
		assert.Equal(t, doc.Status, b.Status, doc.Title)
		assert.Equal(t, doc.Bounty, b.Bounty, doc.Title)
		assert.Len(t, doc.Contributions, b.Contributors, doc.Title)

		contributions, err := l.Contributions(ctx, b.ID)
		require.NoError(t, err)
		var sum float64
		for _, c := range contributions {
			sum += c.Amount
		}
		assert.InDelta(t, b.FundsRaised, sum, 1e-9, doc.Title)
	}

	// The resolved bug credits its developer.
	dev, err := s.GetUser(ctx, "dev-5")
	require.NoError(t, err)
	assert.Equal(t, 40, dev.BugsResolved)
	assert.Equal(t, "elena.volkova@dev.io", dev.Email)

	devs, err := s.ListUsers(ctx, models.RoleDeveloper)
	require.NoError(t, err)
	assert.Len(t, devs, 5)
}

func TestApply_SkipsWhenUsersExist(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "user-x", Name: "X", Role: models.RoleUser}))

	d, err := Default()
	require.NoError(t, err)

	res, err := Apply(ctx, ledger.New(s), d)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	bugs, err := s.ListBugs(ctx, store.BugListFilter{})
	require.NoError(t, err)
	assert.Empty(t, bugs)
}

func TestApply_ReplayMismatch(t *testing.T) {
	// Fully funded bugs become Funded, so declaring Open fails the replay.
	d, err := Parse([]byte(`
bugs:
  - title: x
    description: y
    author: user-1
    bounty: 10
    contributions:
      - {funder: user-1, amount: 10}
    status: Open
`))
	require.NoError(t, err)

	_, err = Apply(context.Background(), ledger.New(store.NewMemoryStore()), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay ended in Funded")
}
