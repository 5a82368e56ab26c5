// Package scoring implements the risk scoring engine. Evaluators run in a
// fixed, deterministic order and each contributes an additive, non-negative
// point delta; the sum is clamped to [0,100] and mapped to a decision via
// fixed thresholds.
package scoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Decision thresholds, evaluated in strict order.
const (
	DenyThreshold      = 80
	ChallengeThreshold = 50
)

// VelocityGetter returns the number of transactions a user submitted within
// the trailing window, exclusive of the transaction being scored.
type VelocityGetter func(ctx context.Context, userID string, windowSecs int) (int64, error)

// Engine scores transactions. It is stateless apart from the loaded custom
// factor set and safe for concurrent use.
type Engine struct {
	cfg      domain.ScoringConfig
	velocity VelocityGetter
	factors  *FactorSet
}

// NewEngine creates a scoring engine. velocity may be nil, in which case the
// velocity evaluator sees a count of zero.
func NewEngine(cfg domain.ScoringConfig, velocity VelocityGetter) (*Engine, error) {
	if cfg.HomeCountry == "" {
		cfg.HomeCountry = "GH"
	}
	if cfg.VelocityWindowSecs <= 0 {
		cfg.VelocityWindowSecs = 3600
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = 5
	}

	factors, err := NewFactorSet()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		velocity: velocity,
		factors:  factors,
	}, nil
}

// Factors exposes the custom factor set for loading and reloading.
func (e *Engine) Factors() *FactorSet {
	return e.factors
}

// Score evaluates a transaction, fetching the recent-transaction count
// through the velocity getter. A velocity lookup failure degrades to a count
// of zero; velocity is a heuristic, not a security boundary.
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction) *domain.RiskResult {
	var count int64
	if e.velocity != nil {
		c, err := e.velocity(ctx, tx.UserID, e.cfg.VelocityWindowSecs)
		if err != nil {
			slog.Warn("velocity lookup failed, assuming zero",
				"user_id", tx.UserID,
				"error", err,
			)
		} else {
			count = c
		}
	}
	return e.ScoreWithCount(tx, count)
}

// ScoreWithCount is the pure scoring core: deterministic for a fixed
// transaction and recent-transaction count, and it never fails for
// well-formed input. Malformed input (negative amount, unknown channel) is
// rejected by the caller before this stage.
func (e *Engine) ScoreWithCount(tx *domain.Transaction, recentCount int64) *domain.RiskResult {
	score := 0
	var reasons []string

	add := func(delta int, reason string) {
		score += delta
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}

	add(evalAmount(tx.Amount))
	add(evalTime(tx.Timestamp))
	add(evalMerchant(tx.Merchant))
	add(evalGeography(tx.Country, e.cfg.HomeCountry))
	add(evalChannel(tx.Channel))
	add(evalVelocity(recentCount, e.cfg.VelocityThreshold))

	for _, hit := range e.factors.Evaluate(tx, recentCount) {
		add(hit.Points, hit.ID)
	}

	score = clamp(score)

	return &domain.RiskResult{
		Score:    score,
		Reasons:  reasons,
		Decision: DecisionForScore(score),
	}
}

// DecisionForScore maps a clamped score to a decision.
func DecisionForScore(score int) domain.Decision {
	switch {
	case score >= DenyThreshold:
		return domain.DecisionDeny
	case score >= ChallengeThreshold:
		return domain.DecisionChallenge
	default:
		return domain.DecisionAllow
	}
}

// evalAmount fires exactly one amount tier per transaction.
func evalAmount(amount float64) (int, string) {
	switch {
	case amount > 10000:
		return 40, domain.ReasonHighAmount
	case amount > 5000:
		return 20, domain.ReasonMediumAmount
	default:
		return 0, domain.ReasonNormalAmount
	}
}

// evalTime flags transactions in the [22,24)∪[0,6] local-hour window.
func evalTime(ts time.Time) (int, string) {
	hour := ts.Hour()
	if hour >= 22 || hour <= 6 {
		return 25, domain.ReasonUnusualTime
	}
	return 0, ""
}

func evalMerchant(merchant string) (int, string) {
	if merchant == "" || strings.Contains(strings.ToLower(merchant), "unknown") {
		return 30, domain.ReasonNewMerchant
	}
	return 0, domain.ReasonKnownMerchant
}

func evalGeography(country, home string) (int, string) {
	if !strings.EqualFold(country, home) {
		return 35, domain.ReasonForeignLocation
	}
	return 0, domain.ReasonLocalLocation
}

func evalChannel(c domain.Channel) (int, string) {
	if c == domain.ChannelAPI {
		return 15, domain.ReasonAPIChannel
	}
	return 0, ""
}

func evalVelocity(count int64, threshold int) (int, string) {
	if count > int64(threshold) {
		return 20, domain.ReasonVelocityExceeded
	}
	return 0, ""
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
