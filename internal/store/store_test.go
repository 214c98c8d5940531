package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/bounty/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// storeFactories lets every contract test run against both implementations.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store { return NewMemoryStore() },
	"sqlite": func(t *testing.T) Store { return newTestSQLiteStore(t) },
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newBug(title string, tags ...string) *models.Bug {
	return &models.Bug{
		Title:       title,
		Description: "Something is broken",
		Tags:        tags,
		Severity:    models.SeverityHigh,
		Status:      models.BugStatusOpen,
		AuthorID:    "user-1",
	}
}

func TestBugCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		bug := newBug("Login loop", "auth", "jwt")
		require.NoError(t, s.CreateBug(ctx, bug))
		assert.NotEmpty(t, bug.ID)
		assert.Contains(t, bug.ID, "bug-")
		assert.False(t, bug.CreatedAt.IsZero())

		got, err := s.GetBug(ctx, bug.ID)
		require.NoError(t, err)
		assert.Equal(t, "Login loop", got.Title)
		assert.Equal(t, []string{"auth", "jwt"}, got.Tags)
		assert.Equal(t, models.SeverityHigh, got.Severity)
		assert.Equal(t, models.BugStatusOpen, got.Status)
		assert.Nil(t, got.AIScore)

		updated, err := s.UpdateBug(ctx, bug.ID, func(b *models.Bug) error {
			b.Status = models.BugStatusClaimed
			b.AssignedDeveloperID = "dev-1"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.BugStatusClaimed, updated.Status)

		got, err = s.GetBug(ctx, bug.ID)
		require.NoError(t, err)
		assert.Equal(t, "dev-1", got.AssignedDeveloperID)
	})
}

func TestGetBug_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetBug(context.Background(), "bug-missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})
}

func TestUpdateBug_ErrorLeavesBugUntouched(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bug := newBug("Crash")
		require.NoError(t, s.CreateBug(ctx, bug))

		boom := errors.New("boom")
		_, err := s.UpdateBug(ctx, bug.ID, func(b *models.Bug) error {
			b.Status = models.BugStatusResolved
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetBug(ctx, bug.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BugStatusOpen, got.Status)
	})
}

func TestListBugs_Filters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a := newBug("A", "auth")
		b := newBug("B", "ui")
		b.Severity = models.SeverityLow
		b.Status = models.BugStatusFunded
		require.NoError(t, s.CreateBug(ctx, a))
		require.NoError(t, s.CreateBug(ctx, b))

		all, err := s.ListBugs(ctx, BugListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		funded, err := s.ListBugs(ctx, BugListFilter{Status: models.BugStatusFunded})
		require.NoError(t, err)
		require.Len(t, funded, 1)
		assert.Equal(t, "B", funded[0].Title)

		high, err := s.ListBugs(ctx, BugListFilter{Severity: models.SeverityHigh})
		require.NoError(t, err)
		require.Len(t, high, 1)
		assert.Equal(t, "A", high[0].Title)

		tagged, err := s.ListBugs(ctx, BugListFilter{Tag: "ui"})
		require.NoError(t, err)
		require.Len(t, tagged, 1)
		assert.Equal(t, "B", tagged[0].Title)

		none, err := s.ListBugs(ctx, BugListFilter{AuthorID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestListBugs_StableOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.CreateBug(ctx, newBug(fmt.Sprintf("bug %d", i))))
		}

		first, err := s.ListBugs(ctx, BugListFilter{})
		require.NoError(t, err)
		second, err := s.ListBugs(ctx, BugListFilter{})
		require.NoError(t, err)

		require.Len(t, first, 5)
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
		}
	})
}

func TestApplyContribution(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bug := newBug("Leak")
		require.NoError(t, s.CreateBug(ctx, bug))

		c := &models.Contribution{BugID: bug.ID, FunderID: "user-2", Amount: 25}
		updated, err := s.ApplyContribution(ctx, c, func(b *models.Bug) error {
			b.FundsRaised += c.Amount
			b.Contributors++
			return nil
		})
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, 25.0, updated.FundsRaised)
		assert.Equal(t, 1, updated.Contributors)

		list, err := s.ListContributions(ctx, ContributionFilter{BugID: bug.ID})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "user-2", list[0].FunderID)
		assert.Equal(t, 25.0, list[0].Amount)

		byFunder, err := s.ListContributions(ctx, ContributionFilter{FunderID: "someone-else"})
		require.NoError(t, err)
		assert.Empty(t, byFunder)
	})
}

func TestApplyContribution_RejectedWritesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bug := newBug("Leak")
		require.NoError(t, s.CreateBug(ctx, bug))

		c := &models.Contribution{BugID: bug.ID, FunderID: "user-2", Amount: 25}
		_, err := s.ApplyContribution(ctx, c, func(b *models.Bug) error {
			b.FundsRaised += c.Amount
			return models.ErrNotFundable
		})
		assert.ErrorIs(t, err, models.ErrNotFundable)

		list, err := s.ListContributions(ctx, ContributionFilter{BugID: bug.ID})
		require.NoError(t, err)
		assert.Empty(t, list)

		got, err := s.GetBug(ctx, bug.ID)
		require.NoError(t, err)
		assert.Zero(t, got.FundsRaised)
	})
}

func TestApplyContribution_MissingBug(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := &models.Contribution{BugID: "bug-nope", FunderID: "user-2", Amount: 5}
		_, err := s.ApplyContribution(ctx, c, func(*models.Bug) error { return nil })
		assert.ErrorIs(t, err, models.ErrNotFound)

		list, err := s.ListContributions(ctx, ContributionFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestConcurrentUpdates_NoLostWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bug := newBug("Race")
		require.NoError(t, s.CreateBug(ctx, bug))

		var g errgroup.Group
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				c := &models.Contribution{BugID: bug.ID, FunderID: "user-x", Amount: 10}
				_, err := s.ApplyContribution(ctx, c, func(b *models.Bug) error {
					b.FundsRaised += 10
					b.Contributors++
					return nil
				})
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.GetBug(ctx, bug.ID)
		require.NoError(t, err)
		assert.Equal(t, 200.0, got.FundsRaised)
		assert.Equal(t, 20, got.Contributors)
	})
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		dev := &models.User{
			Name:         "Dana Dev",
			Email:        models.EmailForName("Dana Dev"),
			Role:         models.RoleDeveloper,
			Skills:       []string{"go", "auth"},
			SuccessRate:  92,
			BugsResolved: 14,
		}
		require.NoError(t, s.UpsertUser(ctx, dev))
		assert.Contains(t, dev.ID, "user-")

		reporter := &models.User{ID: "user-r", Name: "Rita", Email: "rita@example.com", Role: models.RoleUser}
		require.NoError(t, s.UpsertUser(ctx, reporter))

		got, err := s.GetUser(ctx, dev.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"go", "auth"}, got.Skills)
		assert.Equal(t, 14, got.BugsResolved)

		devs, err := s.ListUsers(ctx, models.RoleDeveloper)
		require.NoError(t, err)
		require.Len(t, devs, 1)
		assert.Equal(t, dev.ID, devs[0].ID)

		// Upsert updates in place.
		reporter.Name = "Rita R"
		require.NoError(t, s.UpsertUser(ctx, reporter))
		got, err = s.GetUser(ctx, "user-r")
		require.NoError(t, err)
		assert.Equal(t, "Rita R", got.Name)

		all, err := s.ListUsers(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.GetUser(ctx, "user-missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestVerifications(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bug := newBug("Fix me")
		require.NoError(t, s.CreateBug(ctx, bug))

		v := &models.Verification{
			BugID:           bug.ID,
			DeveloperID:     "dev-1",
			PRLink:          "https://github.com/acme/app/pull/7",
			SimilarityScore: 81.5,
			Passed:          true,
			DiffSummary:     "Modified 2 files.",
		}
		require.NoError(t, s.CreateVerification(ctx, v))
		assert.NotEmpty(t, v.ID)

		list, err := s.ListVerifications(ctx, bug.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].Passed)
		assert.Equal(t, 81.5, list[0].SimilarityScore)

		other, err := s.ListVerifications(ctx, "bug-other")
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestUpdateBugWith_CommitsWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "dev-1", Name: "Dana", Role: models.RoleDeveloper, BugsResolved: 3}))
		bug := newBug("Fix me")
		require.NoError(t, s.CreateBug(ctx, bug))

		v := &models.Verification{BugID: bug.ID, DeveloperID: "dev-1", PRLink: "https://github.com/acme/app/pull/9", Passed: true}
		updated, err := s.UpdateBugWith(ctx, bug.ID, func(b *models.Bug, w *Writes) error {
			b.Status = models.BugStatusResolved
			w.Verification = v
			w.CreditResolved = "dev-1"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.BugStatusResolved, updated.Status)
		assert.NotEmpty(t, v.ID)

		list, err := s.ListVerifications(ctx, bug.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, v.ID, list[0].ID)

		dev, err := s.GetUser(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, 4, dev.BugsResolved)

		// Unknown users are skipped rather than failing the write.
		_, err = s.UpdateBugWith(ctx, bug.ID, func(_ *models.Bug, w *Writes) error {
			w.CreditResolved = "dev-ghost"
			return nil
		})
		require.NoError(t, err)
		_, err = s.GetUser(ctx, "dev-ghost")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUpdateBugWith_RejectedWritesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "dev-1", Name: "Dana", Role: models.RoleDeveloper}))
		bug := newBug("Fix me")
		require.NoError(t, s.CreateBug(ctx, bug))

		_, err := s.UpdateBugWith(ctx, bug.ID, func(b *models.Bug, w *Writes) error {
			w.Verification = &models.Verification{BugID: b.ID, DeveloperID: "dev-1", PRLink: "https://x.dev/pr/1"}
			w.CreditResolved = "dev-1"
			return models.ErrInvalidTransition
		})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		list, err := s.ListVerifications(ctx, bug.ID)
		require.NoError(t, err)
		assert.Empty(t, list)

		dev, err := s.GetUser(ctx, "dev-1")
		require.NoError(t, err)
		assert.Zero(t, dev.BugsResolved)
	})
}

func TestUpdateBugWith_ConcurrentCredits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "dev-1", Name: "Dana", Role: models.RoleDeveloper}))

		var ids []string
		for i := 0; i < 10; i++ {
			bug := newBug(fmt.Sprintf("Bug %d", i))
			require.NoError(t, s.CreateBug(ctx, bug))
			ids = append(ids, bug.ID)
		}

		var g errgroup.Group
		for _, id := range ids {
			g.Go(func() error {
				_, err := s.UpdateBugWith(ctx, id, func(b *models.Bug, w *Writes) error {
					b.Status = models.BugStatusResolved
					w.CreditResolved = "dev-1"
					return nil
				})
				return err
			})
		}
		require.NoError(t, g.Wait())

		dev, err := s.GetUser(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, 10, dev.BugsResolved)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "nested", "bounty.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	bug := newBug("Ctx")
	require.NoError(t, s.CreateBug(context.Background(), bug))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.UpdateBug(ctx, bug.ID, func(b *models.Bug) error {
		b.Status = models.BugStatusResolved
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.GetBug(context.Background(), bug.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusOpen, got.Status)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	bug := newBug("Copy", "go")
	require.NoError(t, s.CreateBug(ctx, bug))

	got, err := s.GetBug(ctx, bug.ID)
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.FundsRaised = 999

	again, err := s.GetBug(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", again.Tags[0])
	assert.Zero(t, again.FundsRaised)
}
