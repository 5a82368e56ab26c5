// Package velocity provides transaction velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// cacheTTL bounds how stale a memoized count may be. Velocity is a
// heuristic; a few seconds of staleness is acceptable.
const cacheTTL = 10 * time.Second

// Service calculates per-user transaction velocity.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service. cache may be nil to disable
// memoization.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// GetTransactionCount returns the number of transactions a user submitted
// within the trailing window. This is the VelocityGetter signature expected
// by the scoring engine. The rolling counter leads the repository while
// recent submissions are still settling, so the larger of the two wins.
func (s *Service) GetTransactionCount(ctx context.Context, userID string, windowSecs int) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	count, err := s.persistedCount(ctx, userID, windowSecs)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if rolling, err := s.cache.GetCounter(ctx, "velocity:"+userID); err == nil && rolling > count {
			return rolling, nil
		}
	}

	return count, nil
}

// persistedCount reads the repository count through the short-lived memo.
func (s *Service) persistedCount(ctx context.Context, userID string, windowSecs int) (int64, error) {
	cacheKey := fmt.Sprintf("velocity:%s:%d", userID, windowSecs)

	if s.cache != nil {
		if val, err := s.cache.Get(ctx, cacheKey); err == nil && val != nil {
			if count, err := strconv.ParseInt(string(val), 10, 64); err == nil {
				return count, nil
			}
		}
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	count, err := s.repo.CountRecentTransactions(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, []byte(strconv.FormatInt(count, 10)), cacheTTL)
	}

	return count, nil
}

// RecordTransaction bumps the rolling per-user counter and invalidates the
// memoized count so the next read sees the new transaction.
func (s *Service) RecordTransaction(ctx context.Context, userID string, windowSecs int) {
	if s.cache == nil || userID == "" {
		return
	}

	window := time.Duration(windowSecs) * time.Second
	_, _ = s.cache.IncrementCounter(ctx, "velocity:"+userID, window)
	_ = s.cache.Delete(ctx, fmt.Sprintf("velocity:%s:%d", userID, windowSecs))
}

// GetVelocityGetter returns a VelocityGetter function for the scoring engine.
func (s *Service) GetVelocityGetter() func(ctx context.Context, userID string, windowSecs int) (int64, error) {
	return s.GetTransactionCount
}
