package domain

// RiskResult is the output of scoring a single transaction.
type RiskResult struct {
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	Decision Decision `json:"decision"`
}

// Reason codes emitted by the built-in evaluators. Reason lists describe
// every evaluator that ran, not only risky ones: "normal_amount" signals
// "no risk from amount" rather than absence of evaluation.
const (
	ReasonHighAmount       = "high_amount"
	ReasonMediumAmount     = "medium_amount"
	ReasonNormalAmount     = "normal_amount"
	ReasonUnusualTime      = "unusual_time"
	ReasonNewMerchant      = "new_merchant"
	ReasonKnownMerchant    = "known_merchant"
	ReasonForeignLocation  = "foreign_location"
	ReasonLocalLocation    = "local_location"
	ReasonAPIChannel       = "api_channel"
	ReasonVelocityExceeded = "velocity_exceeded"
)

// RiskFactorConfig defines an operator-provided risk factor evaluated on top
// of the built-in evaluators. The CEL expression must return a bool; when it
// evaluates true the factor adds Points to the score and its ID to the
// reason list.
type RiskFactorConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL expression over the transaction variables
	// amount, currency, channel, merchant, country, hour, velocity_count.
	Expression string `json:"expression"`

	// Points added to the score when the expression is true. Never negative.
	Points int `json:"points"`

	Enabled bool `json:"enabled"`
}
