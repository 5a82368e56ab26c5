package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/verify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSweeperExpiresOverdueSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	cfg := domain.ScoringConfig{HomeCountry: "GH"}
	engine, err := scoring.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	store := verify.NewMemoryStore()
	machine := verify.NewMachine(store, nil, clock.Now)
	svc := service.New(engine, machine, nil, nil, nil, cfg)

	session := machine.CreateSession(context.Background(), "tx-1", "user-1", 10)

	sweeper := NewSweeper(svc, 10*time.Millisecond)
	sweeper.Start()

	// Session survives sweeps before its deadline.
	time.Sleep(50 * time.Millisecond)

	clock.Advance(200 * time.Second)
	time.Sleep(100 * time.Millisecond)

	// Stop before inspecting the store so the read does not race the loop,
	// and so the status reflects the sweep rather than lazy read expiry.
	sweeper.Stop()

	got, ok := store.Get(session.ID)
	if !ok {
		t.Fatal("session missing from store")
	}
	if got.Status != domain.SessionExpired {
		t.Fatalf("sweeper did not expire session, status %s", got.Status)
	}
}

func TestSweeperStop(t *testing.T) {
	cfg := domain.ScoringConfig{HomeCountry: "GH"}
	engine, err := scoring.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	machine := verify.NewMachine(verify.NewMemoryStore(), nil, nil)
	svc := service.New(engine, machine, nil, nil, nil, cfg)

	sweeper := NewSweeper(svc, time.Millisecond)
	sweeper.Start()
	sweeper.Stop()
	// Stop must be safe to call with the loop already finished.
}
