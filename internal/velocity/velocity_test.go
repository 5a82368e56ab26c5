package velocity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type countingRepo struct {
	domain.Repository
	count int64
	calls int
	err   error
}

func (r *countingRepo) CountRecentTransactions(ctx context.Context, userID string, since time.Time) (int64, error) {
	r.calls++
	return r.count, r.err
}

func TestGetTransactionCount(t *testing.T) {
	ctx := context.Background()

	t.Run("CountsFromRepo", func(t *testing.T) {
		repo := &countingRepo{count: 7}
		svc := NewService(repo, nil)

		count, err := svc.GetTransactionCount(ctx, "user-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 7 {
			t.Errorf("expected 7, got %d", count)
		}
	})

	t.Run("MemoizesThroughCache", func(t *testing.T) {
		repo := &countingRepo{count: 3}
		svc := NewService(repo, cache.NewLRUCache(10))

		for i := 0; i < 3; i++ {
			count, err := svc.GetTransactionCount(ctx, "user-1", 3600)
			if err != nil {
				t.Fatalf("GetTransactionCount failed: %v", err)
			}
			if count != 3 {
				t.Errorf("expected 3, got %d", count)
			}
		}

		if repo.calls != 1 {
			t.Errorf("expected 1 repo query, got %d", repo.calls)
		}
	})

	t.Run("RecordInvalidatesMemo", func(t *testing.T) {
		repo := &countingRepo{count: 3}
		svc := NewService(repo, cache.NewLRUCache(10))

		if _, err := svc.GetTransactionCount(ctx, "user-1", 3600); err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}

		repo.count = 4
		svc.RecordTransaction(ctx, "user-1", 3600)

		count, err := svc.GetTransactionCount(ctx, "user-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 4 {
			t.Errorf("expected fresh count 4, got %d", count)
		}
		if repo.calls != 2 {
			t.Errorf("expected 2 repo queries, got %d", repo.calls)
		}
	})

	t.Run("RollingCounterLeadsRepo", func(t *testing.T) {
		// Recent submissions show up in the rolling counter before the
		// repository sees them.
		repo := &countingRepo{count: 0}
		svc := NewService(repo, cache.NewLRUCache(10))

		for i := 0; i < 10; i++ {
			svc.RecordTransaction(ctx, "user-1", 3600)
		}

		count, err := svc.GetTransactionCount(ctx, "user-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 10 {
			t.Errorf("expected rolling count 10, got %d", count)
		}
	})

	t.Run("RepoLeadsStaleCounter", func(t *testing.T) {
		// A restarted process has an empty counter; the repository count
		// still wins.
		repo := &countingRepo{count: 5}
		svc := NewService(repo, cache.NewLRUCache(10))

		count, err := svc.GetTransactionCount(ctx, "user-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 5 {
			t.Errorf("expected repo count 5, got %d", count)
		}
	})

	t.Run("RequiresUserID", func(t *testing.T) {
		svc := NewService(&countingRepo{}, nil)
		if _, err := svc.GetTransactionCount(ctx, "", 3600); err == nil {
			t.Error("expected error for empty userID")
		}
	})

	t.Run("RepoError", func(t *testing.T) {
		repo := &countingRepo{err: errors.New("db down")}
		svc := NewService(repo, nil)
		if _, err := svc.GetTransactionCount(ctx, "user-1", 3600); err == nil {
			t.Error("expected error when repo fails")
		}
	})

	t.Run("NoDataSource", func(t *testing.T) {
		svc := NewService(nil, nil)
		if _, err := svc.GetTransactionCount(ctx, "user-1", 3600); err == nil {
			t.Error("expected error with no repo")
		}
	})
}
