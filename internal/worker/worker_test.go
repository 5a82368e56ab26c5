package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/verify"
)

func newTestPipeline(t *testing.T, eventBus domain.EventBus) *service.Service {
	t.Helper()

	cfg := domain.ScoringConfig{HomeCountry: "GH", VelocityWindowSecs: 3600, VelocityThreshold: 5}
	engine, err := scoring.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	machine := verify.NewMachine(verify.NewMemoryStore(), nil, nil)
	return service.New(engine, machine, nil, eventBus, nil, cfg)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	svc := newTestPipeline(t, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, svc)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		w.Start()
		defer w.Stop()

		var decisionReceived atomic.Bool
		var decisionPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisionPayload = msg.Payload
			decisionReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   500.0,
			Currency: "GHS",
			Merchant: "Accra Mall",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		}

		payload, _ := json.Marshal(req)
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Fatal("expected decision to be published")
		}

		var tx domain.Transaction
		if err := json.Unmarshal(decisionPayload, &tx); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}
		if tx.UserID != "user-001" {
			t.Errorf("expected userID 'user-001', got '%s'", tx.UserID)
		}
		if tx.ID == "" {
			t.Error("expected transaction ID to be assigned")
		}
	})

	t.Run("EnqueueReachesWorker", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		w.Start()
		defer w.Stop()

		var decisionReceived atomic.Bool
		eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisionReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// The service-side enqueue path feeds the same ingestion topic.
		err := svc.EnqueueTransaction(context.Background(), &domain.TransactionRequest{
			UserID:   "user-003",
			Amount:   750.0,
			Currency: "GHS",
			Merchant: "Accra Mall",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})
		if err != nil {
			t.Fatalf("EnqueueTransaction failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Error("expected enqueued transaction to be processed")
		}
	})

	t.Run("AlertPublishedForDeny", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		w.Start()
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// High amount, unknown merchant, foreign country: DENY territory.
		req := domain.TransactionRequest{
			UserID:   "user-002",
			Amount:   25000,
			Currency: "USD",
			Channel:  domain.ChannelWeb,
			Country:  "US",
		}

		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for denied transaction")
		}
	})

	t.Run("DropsInvalidMessages", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		w.Start()
		defer w.Stop()

		var decisions atomic.Int32
		eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisions.Add(1)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Missing user, bad amount, unknown channel: dropped, not evaluated.
		bad := domain.TransactionRequest{Amount: -5, Channel: domain.Channel("carrier-pigeon")}
		payload, _ := json.Marshal(bad)
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if decisions.Load() != 0 {
			t.Errorf("expected no decisions for invalid message, got %d", decisions.Load())
		}
	})
}
