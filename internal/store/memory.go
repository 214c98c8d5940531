package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/joescharf/bounty/internal/models"
)

// bugRecord pairs a bug with the lock that serializes its writers.
type bugRecord struct {
	mu  sync.Mutex
	bug *models.Bug
}

// MemoryStore implements Store in process memory. Nothing survives a restart.
//
// The index lock guards the maps only; each bug carries its own mutex so writers
// on different bugs proceed concurrently.
type MemoryStore struct {
	mu            sync.RWMutex
	bugs          map[string]*bugRecord
	contributions []*models.Contribution
	users         map[string]*models.User
	verifications []*models.Verification
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bugs:  make(map[string]*bugRecord),
		users: make(map[string]*models.User),
	}
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// --- Bugs ---

func (s *MemoryStore) CreateBug(ctx context.Context, bug *models.Bug) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bug.ID == "" {
		bug.ID = newBugID()
	}
	now := time.Now().UTC()
	bug.CreatedAt = now
	bug.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bugs[bug.ID]; exists {
		return fmt.Errorf("create bug %s: %w", bug.ID, models.ErrConflict)
	}
	s.bugs[bug.ID] = &bugRecord{bug: bug.Clone()}
	return nil
}

func (s *MemoryStore) record(id string) (*bugRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bugs[id]
	return rec, ok
}

func (s *MemoryStore) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s.record(id)
	if !ok {
		return nil, bugNotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.bug.Clone(), nil
}

func (s *MemoryStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	records := make([]*bugRecord, 0, len(s.bugs))
	for _, rec := range s.bugs {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	var bugs []*models.Bug
	for _, rec := range records {
		rec.mu.Lock()
		b := rec.bug.Clone()
		rec.mu.Unlock()
		if filter.Matches(b) {
			bugs = append(bugs, b)
		}
	}
	sortBugs(bugs)
	return bugs, nil
}

// sortBugs orders newest first, falling back to ID so equal timestamps list stably.
func sortBugs(bugs []*models.Bug) {
	sort.Slice(bugs, func(i, j int) bool {
		if !bugs[i].CreatedAt.Equal(bugs[j].CreatedAt) {
			return bugs[i].CreatedAt.After(bugs[j].CreatedAt)
		}
		return bugs[i].ID > bugs[j].ID
	})
}

func (s *MemoryStore) UpdateBug(ctx context.Context, id string, fn MutateFunc) (*models.Bug, error) {
	return s.mutate(ctx, id, func(b *models.Bug, _ *Writes) error { return fn(b) })
}

func (s *MemoryStore) UpdateBugWith(ctx context.Context, id string, fn WriteFunc) (*models.Bug, error) {
	return s.mutate(ctx, id, fn)
}

// mutate applies fn to a working copy under the bug's lock and commits the copy
// together with any queued writes only when fn succeeds.
func (s *MemoryStore) mutate(ctx context.Context, id string, fn WriteFunc) (*models.Bug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s.record(id)
	if !ok {
		return nil, bugNotFound(id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := rec.bug.Clone()
	var w Writes
	if err := fn(working, &w); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	working.UpdatedAt = now
	w.stamp(now)

	s.mu.Lock()
	if c := w.Contribution; c != nil {
		cp := *c
		s.contributions = append(s.contributions, &cp)
	}
	if v := w.Verification; v != nil {
		cp := *v
		s.verifications = append(s.verifications, &cp)
	}
	if u, ok := s.users[w.CreditResolved]; ok {
		u.BugsResolved++
	}
	rec.bug = working
	s.mu.Unlock()
	return working.Clone(), nil
}

// --- Contributions ---

func (s *MemoryStore) ApplyContribution(ctx context.Context, c *models.Contribution, fn MutateFunc) (*models.Bug, error) {
	return s.mutate(ctx, c.BugID, func(b *models.Bug, w *Writes) error {
		if err := fn(b); err != nil {
			return err
		}
		w.Contribution = c
		return nil
	})
}

func (s *MemoryStore) ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contribution
	for _, c := range s.contributions {
		if filter.BugID != "" && c.BugID != filter.BugID {
			continue
		}
		if filter.FunderID != "" && c.FunderID != filter.FunderID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- Users ---

func (s *MemoryStore) UpsertUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = newUserID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	cp.Skills = slices.Clone(u.Skills)
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, userNotFound(id)
	}
	cp := *u
	cp.Skills = slices.Clone(u.Skills)
	return &cp, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, role models.Role) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.User
	for _, u := range s.users {
		if role != "" && u.Role != role {
			continue
		}
		cp := *u
		cp.Skills = slices.Clone(u.Skills)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Verifications ---

func (s *MemoryStore) CreateVerification(ctx context.Context, v *models.Verification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.ID == "" {
		v.ID = newULID()
	}
	v.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.verifications = append(s.verifications, &cp)
	return nil
}

func (s *MemoryStore) ListVerifications(ctx context.Context, bugID string) ([]*models.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Verification
	for _, v := range s.verifications {
		if v.BugID == bugID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}
