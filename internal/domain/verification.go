package domain

import (
	"time"
)

// Method is a named means of proving identity during step-up verification.
type Method string

const (
	MethodBiometric         Method = "BIOMETRIC"
	MethodFingerprint       Method = "FINGERPRINT"
	MethodFaceRecognition   Method = "FACE_RECOGNITION"
	MethodSMSCode           Method = "SMS_CODE"
	MethodEmailCode         Method = "EMAIL_CODE"
	MethodSecurityQuestions Method = "SECURITY_QUESTIONS"
	MethodPINVerification   Method = "PIN_VERIFICATION"
	MethodOTP               Method = "OTP"
	MethodVoiceVerification Method = "VOICE_VERIFICATION"
	MethodLiveness          Method = "LIVENESS"
	MethodIDScan            Method = "ID_SCAN"
	MethodDocumentScan      Method = "DOCUMENT_SCAN"
)

// RiskLevel is the coarse tier derived from a risk score at session creation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SessionStatus is the lifecycle status of a verification session.
// completed, failed, and expired are terminal.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// StepResult classifies the outcome of one step submission.
type StepResult string

const (
	StepSuccess StepResult = "success"
	StepPending StepResult = "pending"
	StepFailed  StepResult = "failed"
	StepExpired StepResult = "expired"
)

// VerificationStep is one required verification method within a session.
type VerificationStep struct {
	Method   Method `json:"method"`
	Required bool   `json:"required"`

	// Priority is the 1-based execution order within the session.
	Priority int `json:"priority"`

	// TimeoutSecs duplicates the session timeout for per-step introspection.
	TimeoutSecs int `json:"timeoutSeconds"`

	Completed bool `json:"completed"`

	// Data is the method-specific payload, written once on success.
	// Set if and only if Completed is true.
	Data any `json:"data,omitempty"`

	// Attempts counts submissions against this step, including rejected ones.
	Attempts int `json:"attempts"`
}

// VerificationSession is the stateful record of an in-progress step-up
// challenge tied to one transaction. It is owned exclusively by the session
// machine while active and becomes immutable once terminal.
type VerificationSession struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transactionId"`
	UserID        string             `json:"userId"`
	Steps         []VerificationStep `json:"steps"`

	// CurrentStep is the index of the first incomplete step, or len(Steps)
	// when none remain.
	CurrentStep int `json:"currentStep"`

	Status    SessionStatus `json:"status"`
	RiskLevel RiskLevel     `json:"riskLevel"`
	ExpiresAt time.Time     `json:"expiresAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Clone returns a deep copy of the session so callers can inspect state
// without racing the machine.
func (s *VerificationSession) Clone() *VerificationSession {
	cp := *s
	cp.Steps = make([]VerificationStep, len(s.Steps))
	copy(cp.Steps, s.Steps)
	return &cp
}

// StepOutcome is the result of one step submission.
type StepOutcome struct {
	Success bool       `json:"success"`
	Result  StepResult `json:"result"`
	Reasons []string   `json:"reasons,omitempty"`
}

// Progress summarizes session completion for callers.
type Progress struct {
	CompletedMethods []Method `json:"completedMethods"`
	RemainingMethods []Method `json:"remainingMethods"`
	PercentComplete  int      `json:"percentComplete"`
	CanProceed       bool     `json:"canProceed"`
}

// VerificationAttempt is an immutable audit record of one successfully
// completed verification step.
type VerificationAttempt struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	TransactionID string     `json:"transactionId"`
	Method        Method     `json:"method"`
	Result        StepResult `json:"result"`
	Reasons       []string   `json:"reasons,omitempty"`
	AttemptsCount int        `json:"attemptsCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Data          any        `json:"data,omitempty"`
}

// AttemptFilter selects attempts from the log. Zero values match everything.
type AttemptFilter struct {
	UserID string
	Method Method
	Result StepResult
}

// SessionStore is the keyed store backing the session machine. The same
// contract supports the in-memory map used today and a networked store later
// without touching the state machine logic.
type SessionStore interface {
	// Get returns the session for id, or false when absent.
	Get(id string) (*VerificationSession, bool)

	// Put inserts or replaces a session.
	Put(s *VerificationSession)

	// List returns all sessions in unspecified order.
	List() []*VerificationSession
}
