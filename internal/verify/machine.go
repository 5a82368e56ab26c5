// Package verify implements the adaptive verification session machine:
// session creation from policy requirements, step submission with
// method-specific payload validation, expiry (lazy and swept), and the
// append-only attempt log.
package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/syncutil"
)

// Machine drives verification sessions. All state transitions happen under a
// per-session lock, so concurrent submissions against one session serialize
// while distinct sessions proceed in parallel.
type Machine struct {
	store domain.SessionStore
	repo  domain.Repository
	locks *syncutil.KeyedMutex
	now   func() time.Time
}

// NewMachine creates a session machine. repo may be nil to disable the
// persistence write-through; now may be nil to use the wall clock.
func NewMachine(store domain.SessionStore, repo domain.Repository, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		store: store,
		repo:  repo,
		locks: syncutil.NewKeyedMutex(256),
		now:   now,
	}
}

// CreateSession builds an active session for a transaction from the policy
// tier of riskScore. Steps are ordered by policy priority and every step is
// required.
func (m *Machine) CreateSession(ctx context.Context, transactionID, userID string, riskScore int) *domain.VerificationSession {
	req := policy.Resolve(riskScore)
	now := m.now().UTC()

	steps := make([]domain.VerificationStep, len(req.Methods))
	for i, method := range req.Methods {
		steps[i] = domain.VerificationStep{
			Method:      method,
			Required:    true,
			Priority:    i + 1,
			TimeoutSecs: req.TimeoutSecs,
		}
	}

	session := &domain.VerificationSession{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		UserID:        userID,
		Steps:         steps,
		CurrentStep:   0,
		Status:        domain.SessionActive,
		RiskLevel:     req.RiskLevel,
		ExpiresAt:     now.Add(time.Duration(req.TimeoutSecs) * time.Second),
		CreatedAt:     now,
	}

	m.store.Put(session)
	m.persistSession(ctx, session)

	return session.Clone()
}

// GetSession returns a snapshot of the session, applying lazy expiry first so
// callers never observe an active session past its deadline.
func (m *Machine) GetSession(ctx context.Context, sessionID string) (*domain.VerificationSession, bool) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, ok := m.store.Get(sessionID)
	if !ok {
		return nil, false
	}
	m.expireIfDue(ctx, session)
	return session.Clone(), true
}

// CompleteStep submits a payload for one method of a session. It returns the
// submission outcome and a post-submission snapshot of the session (nil when
// the session does not exist).
func (m *Machine) CompleteStep(ctx context.Context, sessionID string, method domain.Method, payload json.RawMessage) (*domain.StepOutcome, *domain.VerificationSession) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, ok := m.store.Get(sessionID)
	if !ok {
		return &domain.StepOutcome{
			Success: false,
			Result:  domain.StepFailed,
			Reasons: []string{"Session not found"},
		}, nil
	}

	if m.expireIfDue(ctx, session) {
		return &domain.StepOutcome{
			Success: false,
			Result:  domain.StepExpired,
			Reasons: []string{"Session expired"},
		}, session.Clone()
	}

	if session.Status != domain.SessionActive {
		return &domain.StepOutcome{
			Success: false,
			Result:  domain.StepFailed,
			Reasons: []string{"Session not active"},
		}, session.Clone()
	}

	// Completed steps are no longer pending, so resubmitting one reads the
	// same as a method outside the session plan.
	step := findPendingStep(session, method)
	if step == nil {
		return &domain.StepOutcome{
			Success: false,
			Result:  domain.StepFailed,
			Reasons: []string{"Method not required for this session"},
		}, session.Clone()
	}

	step.Attempts++

	data, reasons := DecodePayload(method, payload)
	if reasons != nil {
		return &domain.StepOutcome{
			Success: false,
			Result:  domain.StepFailed,
			Reasons: reasons,
		}, session.Clone()
	}

	now := m.now().UTC()
	step.Completed = true
	step.Data = data

	outcome := &domain.StepOutcome{
		Success: true,
		Result:  domain.StepSuccess,
	}

	if advance(session) {
		session.Status = domain.SessionCompleted
		m.persistSession(ctx, session)
		outcome.Reasons = []string{"All verification steps completed"}
	} else {
		outcome.Reasons = []string{"Step completed, more steps required"}
	}

	m.recordAttempt(ctx, session, step, now)

	return outcome, session.Clone()
}

// CancelSession transitions an active session to failed. Sessions already in
// a terminal state are left untouched, so a cancel never rewrites an outcome.
// The first return reports whether this call performed the transition, the
// second whether the session exists.
func (m *Machine) CancelSession(ctx context.Context, sessionID string) (bool, bool) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, ok := m.store.Get(sessionID)
	if !ok {
		return false, false
	}

	if session.Status != domain.SessionActive {
		return false, true
	}

	session.Status = domain.SessionFailed
	m.persistSession(ctx, session)
	return true, true
}

// Progress summarizes completion for a session.
func (m *Machine) Progress(ctx context.Context, sessionID string) (*domain.Progress, bool) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, ok := m.store.Get(sessionID)
	if !ok {
		return nil, false
	}
	m.expireIfDue(ctx, session)

	var completed, remaining []domain.Method
	for _, step := range session.Steps {
		if step.Completed {
			completed = append(completed, step.Method)
		} else {
			remaining = append(remaining, step.Method)
		}
	}

	percent := 0
	if len(session.Steps) > 0 {
		percent = 100 * len(completed) / len(session.Steps)
	}

	return &domain.Progress{
		CompletedMethods: completed,
		RemainingMethods: remaining,
		PercentComplete:  percent,
		CanProceed:       session.Status == domain.SessionCompleted,
	}, true
}

// SweepExpired transitions every overdue active session to expired and
// returns snapshots of the sessions it expired. Status is only inspected
// under the session lock so the sweep serializes with step submissions.
func (m *Machine) SweepExpired(ctx context.Context) []*domain.VerificationSession {
	var expired []*domain.VerificationSession
	for _, session := range m.store.List() {
		unlock := m.locks.Lock(session.ID)
		if m.expireIfDue(ctx, session) {
			expired = append(expired, session.Clone())
		}
		unlock()
	}
	return expired
}

// expireIfDue applies lazy expiry to an active session past its deadline.
// The caller must hold the session lock.
func (m *Machine) expireIfDue(ctx context.Context, session *domain.VerificationSession) bool {
	if session.Status != domain.SessionActive {
		return false
	}
	if !m.now().After(session.ExpiresAt) {
		return false
	}

	session.Status = domain.SessionExpired
	m.persistSession(ctx, session)
	return true
}

// advance moves CurrentStep to the first incomplete step and reports whether
// every step is complete.
func advance(session *domain.VerificationSession) bool {
	for i, step := range session.Steps {
		if !step.Completed {
			session.CurrentStep = i
			return false
		}
	}
	session.CurrentStep = len(session.Steps)
	return true
}

func findPendingStep(session *domain.VerificationSession, method domain.Method) *domain.VerificationStep {
	for i := range session.Steps {
		if session.Steps[i].Method == method && !session.Steps[i].Completed {
			return &session.Steps[i]
		}
	}
	return nil
}

// recordAttempt appends a successful step to the audit log. Only successes
// are persisted; rejected submissions surface in the step attempt counter.
func (m *Machine) recordAttempt(ctx context.Context, session *domain.VerificationSession, step *domain.VerificationStep, completedAt time.Time) {
	if m.repo == nil {
		return
	}

	attempt := &domain.VerificationAttempt{
		ID:            uuid.New().String(),
		UserID:        session.UserID,
		TransactionID: session.TransactionID,
		Method:        step.Method,
		Result:        domain.StepSuccess,
		AttemptsCount: step.Attempts,
		CreatedAt:     completedAt,
		CompletedAt:   &completedAt,
		Data:          step.Data,
	}

	if err := m.repo.SaveAttempt(ctx, attempt); err != nil {
		slog.Error("failed to persist verification attempt",
			"session_id", session.ID,
			"method", step.Method,
			"error", err,
		)
	}
}

func (m *Machine) persistSession(ctx context.Context, session *domain.VerificationSession) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveSession(ctx, session); err != nil {
		slog.Error("failed to persist verification session",
			"session_id", session.ID,
			"status", session.Status,
			"error", err,
		)
	}
}
