package domain

import (
	"strings"
	"time"
)

// Channel identifies the submission channel of a transaction.
type Channel string

const (
	ChannelMobile Channel = "mobile"
	ChannelWeb    Channel = "web"
	ChannelAPI    Channel = "api"
	ChannelATM    Channel = "atm"
	ChannelPOS    Channel = "pos"
)

// ValidChannel reports whether c is one of the known channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelMobile, ChannelWeb, ChannelAPI, ChannelATM, ChannelPOS:
		return true
	}
	return false
}

// Decision is the outcome of risk scoring a transaction.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionDeny      Decision = "DENY"
)

// TxStatus is the lifecycle status of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction represents an incoming payment transaction to be evaluated.
type Transaction struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Merchant is the payee name; empty when unknown.
	Merchant string  `json:"merchant,omitempty"`
	Channel  Channel `json:"channel"`

	// Country is the resolved origin country of the transaction.
	Country string `json:"country"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Risk fields, populated by the scoring engine.
	Decision  Decision `json:"decision,omitempty"`
	RiskScore int      `json:"riskScore"`
	Reasons   []string `json:"reasons,omitempty"`
	Status    TxStatus `json:"status"`
}

// TransactionRequest is the API request payload for transaction evaluation.
type TransactionRequest struct {
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Merchant string  `json:"merchant,omitempty"`
	Channel  Channel `json:"channel"`
	Country  string  `json:"country"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		UserID:    r.UserID,
		Amount:    r.Amount,
		Currency:  strings.ToUpper(r.Currency),
		Merchant:  r.Merchant,
		Channel:   r.Channel,
		Country:   strings.ToUpper(r.Country),
		Timestamp: now,
		CreatedAt: now,
		Status:    TxPending,
	}
}
