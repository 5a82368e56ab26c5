// Package worker provides async transaction processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Worker consumes ingested transactions from the event bus and runs them
// through the evaluation pipeline. It serves callers that publish instead of
// using the synchronous HTTP endpoint.
type Worker struct {
	bus domain.EventBus
	svc *service.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *service.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.UserID == "" || req.Amount <= 0 || !domain.ValidChannel(req.Channel) {
		slog.Warn("dropping invalid transaction message",
			"message_id", msg.ID,
			"user_id", req.UserID,
		)
		return nil
	}

	result, err := w.svc.EvaluateTransaction(ctx, &req)
	if err != nil {
		slog.Error("transaction evaluation failed",
			"message_id", msg.ID,
			"user_id", req.UserID,
			"error", err,
		)
		return err
	}

	slog.Info("transaction processed",
		"tx_id", result.Transaction.ID,
		"user_id", req.UserID,
		"decision", result.Risk.Decision,
		"score", result.Risk.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
