package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
)

// DefaultCacheTTL is how long an analysis stays cached when no TTL is configured.
const DefaultCacheTTL = 10 * time.Minute

// Service runs analyses against stored bugs and records the results.
type Service struct {
	ledger *ledger.Ledger
	engine Engine
	cache  *cache.Cache
}

// NewService creates a Service. A non-positive ttl uses DefaultCacheTTL.
func NewService(l *ledger.Ledger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		ledger: l,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Analyze returns the analysis for a bug. The first run stores the priority
// score, category and complexity on the bug and, when no bounty has been set,
// uses the estimate as the bounty.
func (s *Service) Analyze(ctx context.Context, bugID string) (*models.Analysis, error) {
	if cached, ok := s.cache.Get(bugID); ok {
		a := cached.(models.Analysis)
		return &a, nil
	}

	bug, err := s.ledger.GetBug(ctx, bugID)
	if err != nil {
		return nil, err
	}
	a := s.engine.Analyze(bug)

	score := a.PriorityScore
	_, err = s.ledger.Store().UpdateBug(ctx, bugID, func(b *models.Bug) error {
		b.AIScore = &score
		b.Category = a.Category
		b.Complexity = a.Complexity
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record analysis: %w", err)
	}

	if bug.Bounty == 0 && a.EstimatedBounty > 0 && bug.Status.Fundable() {
		_, err := s.ledger.SetBounty(ctx, bugID, a.EstimatedBounty)
		switch {
		case err == nil:
			slog.Debug("bounty set from analysis", "bug", bugID, "bounty", a.EstimatedBounty)
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFundable):
			// Another caller moved the bug first; their value stands.
		default:
			return nil, err
		}
	}

	s.cache.Set(bugID, a, cache.DefaultExpiration)
	return &a, nil
}

// Matches ranks every developer against the bug.
func (s *Service) Matches(ctx context.Context, bugID string) ([]models.DeveloperMatch, error) {
	bug, err := s.ledger.GetBug(ctx, bugID)
	if err != nil {
		return nil, err
	}
	devs, err := s.ledger.Store().ListUsers(ctx, models.RoleDeveloper)
	if err != nil {
		return nil, err
	}
	return s.engine.Match(bug, devs), nil
}
