// Package service orchestrates the evaluation pipeline: risk scoring, the
// decision write-back, challenge session creation, step submission, and the
// event publications that surround them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/verify"
)

// Service wires the scoring engine and session machine to persistence and
// the event bus. repo, bus, and vel may each be nil; the pipeline degrades
// to in-memory evaluation.
type Service struct {
	engine  *scoring.Engine
	machine *verify.Machine
	repo    domain.Repository
	bus     domain.EventBus
	vel     *velocity.Service
	cfg     domain.ScoringConfig
}

// New creates the orchestration service.
func New(engine *scoring.Engine, machine *verify.Machine, repo domain.Repository, bus domain.EventBus, vel *velocity.Service, cfg domain.ScoringConfig) *Service {
	return &Service{
		engine:  engine,
		machine: machine,
		repo:    repo,
		bus:     bus,
		vel:     vel,
		cfg:     cfg,
	}
}

// EvaluationResult is the full outcome of evaluating one transaction.
type EvaluationResult struct {
	Transaction *domain.Transaction         `json:"transaction"`
	Risk        *domain.RiskResult          `json:"risk"`
	Session     *domain.VerificationSession `json:"session,omitempty"`
}

// EvaluateTransaction scores a transaction, persists it with its decision,
// and opens a verification session when the decision is CHALLENGE.
func (s *Service) EvaluateTransaction(ctx context.Context, req *domain.TransactionRequest) (*EvaluationResult, error) {
	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	risk := s.engine.Score(ctx, tx)

	tx.RiskScore = risk.Score
	tx.Decision = risk.Decision
	tx.Reasons = risk.Reasons

	switch risk.Decision {
	case domain.DecisionAllow:
		tx.Status = domain.TxCompleted
	case domain.DecisionDeny:
		tx.Status = domain.TxFailed
	default:
		// CHALLENGE: pending until the verification session resolves.
		tx.Status = domain.TxPending
	}

	if s.repo != nil {
		if err := s.repo.SaveTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to save transaction: %w", err)
		}
	}

	if s.vel != nil {
		s.vel.RecordTransaction(ctx, tx.UserID, s.cfg.VelocityWindowSecs)
	}

	result := &EvaluationResult{
		Transaction: tx,
		Risk:        risk,
	}

	if risk.Decision == domain.DecisionChallenge {
		session := s.machine.CreateSession(ctx, tx.ID, tx.UserID, risk.Score)
		result.Session = session
		s.publish(ctx, domain.TopicSessionCreated, session)
	}

	s.publish(ctx, domain.TopicDecision, tx)
	if risk.Decision == domain.DecisionDeny {
		s.publish(ctx, domain.TopicAlert, tx)
	}

	return result, nil
}

// EnqueueTransaction publishes a transaction request to the ingestion topic
// for asynchronous evaluation by the worker.
func (s *Service) EnqueueTransaction(ctx context.Context, req *domain.TransactionRequest) error {
	if s.bus == nil {
		return fmt.Errorf("no event bus configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction request: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicTransactionIngested, payload)
}

// GetTransaction fetches a persisted transaction.
func (s *Service) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}
	return s.repo.GetTransaction(ctx, txID)
}

// RequiredMethods resolves the verification requirements for a risk score
// without creating a session.
func (s *Service) RequiredMethods(riskScore int) policy.Requirements {
	return policy.Resolve(riskScore)
}

// GetSession returns a snapshot of a verification session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.VerificationSession, bool) {
	return s.machine.GetSession(ctx, sessionID)
}

// Progress summarizes completion for a verification session.
func (s *Service) Progress(ctx context.Context, sessionID string) (*domain.Progress, bool) {
	return s.machine.Progress(ctx, sessionID)
}

// SubmitStep submits a verification payload and finalizes the underlying
// transaction when the session reaches a terminal state.
func (s *Service) SubmitStep(ctx context.Context, sessionID string, method domain.Method, payload json.RawMessage) (*domain.StepOutcome, *domain.VerificationSession) {
	outcome, session := s.machine.CompleteStep(ctx, sessionID, method, payload)
	if session == nil {
		return outcome, nil
	}

	if outcome.Success {
		s.publish(ctx, domain.TopicStepCompleted, map[string]any{
			"sessionId": session.ID,
			"method":    method,
		})
	}

	switch {
	case outcome.Success && session.Status == domain.SessionCompleted:
		s.finalizeTransaction(ctx, session.TransactionID, domain.TxCompleted)
		s.publish(ctx, domain.TopicSessionCompleted, session)

	case outcome.Result == domain.StepExpired:
		// Fresh lazy expiry; repeat submissions against a terminal session
		// report failed, not expired.
		s.finalizeTransaction(ctx, session.TransactionID, domain.TxFailed)
		s.publish(ctx, domain.TopicSessionExpired, session)
	}

	return outcome, session
}

// CancelSession cancels a verification session and marks its transaction
// cancelled. A session already in a terminal state keeps its outcome; the
// cancel is still acknowledged. Returns false when the session does not
// exist.
func (s *Service) CancelSession(ctx context.Context, sessionID string) bool {
	session, ok := s.machine.GetSession(ctx, sessionID)
	if !ok {
		return false
	}

	cancelled, ok := s.machine.CancelSession(ctx, sessionID)
	if !ok {
		return false
	}
	if !cancelled {
		return true
	}

	s.finalizeTransaction(ctx, session.TransactionID, domain.TxCancelled)
	s.publish(ctx, domain.TopicSessionCancelled, map[string]any{
		"sessionId":     sessionID,
		"transactionId": session.TransactionID,
	})
	return true
}

// SweepExpired expires overdue sessions and fails their transactions.
// Returns the number of sessions expired.
func (s *Service) SweepExpired(ctx context.Context) int {
	expired := s.machine.SweepExpired(ctx)
	for _, session := range expired {
		s.finalizeTransaction(ctx, session.TransactionID, domain.TxFailed)
		s.publish(ctx, domain.TopicSessionExpired, session)
	}
	return len(expired)
}

// ListAttempts returns audit log entries matching the filter.
func (s *Service) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]*domain.VerificationAttempt, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}
	return s.repo.ListAttempts(ctx, filter)
}

// SaveRiskFactor compiles, loads, and persists a custom risk factor. The
// factor takes effect on the next evaluation.
func (s *Service) SaveRiskFactor(ctx context.Context, cfg *domain.RiskFactorConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("factor ID is required")
	}

	if cfg.Enabled {
		if err := s.engine.Factors().Load(cfg); err != nil {
			return err
		}
	}

	if s.repo != nil {
		if err := s.repo.SaveRiskFactor(ctx, cfg); err != nil {
			return fmt.Errorf("failed to persist risk factor: %w", err)
		}
	}
	return nil
}

// ListRiskFactors returns the currently loaded custom risk factors.
func (s *Service) ListRiskFactors() []*domain.RiskFactorConfig {
	return s.engine.Factors().Loaded()
}

// ReloadRiskFactors replaces the loaded factor set with the enabled factors
// currently persisted.
func (s *Service) ReloadRiskFactors(ctx context.Context) error {
	if s.repo == nil {
		return fmt.Errorf("no repository configured")
	}

	configs, err := s.repo.ListRiskFactors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list risk factors: %w", err)
	}
	return s.engine.Factors().Reload(configs)
}

func (s *Service) finalizeTransaction(ctx context.Context, txID string, status domain.TxStatus) {
	if s.repo == nil || txID == "" {
		return
	}
	if err := s.repo.UpdateTransactionStatus(ctx, txID, status); err != nil {
		slog.Error("failed to finalize transaction",
			"transaction_id", txID,
			"status", status,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}
