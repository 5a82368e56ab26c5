package scoring

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// FactorSet holds the operator-defined CEL risk factors evaluated on top of
// the built-in evaluators. Factors only ever add points; a factor whose
// expression errors at runtime is skipped rather than failing the score.
type FactorSet struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledFactor
}

type compiledFactor struct {
	config  *domain.RiskFactorConfig
	program cel.Program
}

// FactorHit records a custom factor that fired for a transaction.
type FactorHit struct {
	ID     string
	Points int
}

// NewFactorSet creates an empty factor set with the transaction CEL
// environment.
func NewFactorSet() (*FactorSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FactorSet{
		env:      env,
		compiled: make(map[string]*compiledFactor),
	}, nil
}

// Load compiles and loads a single factor.
func (fs *FactorSet) Load(cfg *domain.RiskFactorConfig) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	compiled, err := fs.compile(cfg)
	if err != nil {
		return err
	}
	fs.compiled[cfg.ID] = compiled
	return nil
}

// LoadAll compiles and loads every enabled factor in configs.
func (fs *FactorSet) LoadAll(configs []*domain.RiskFactorConfig) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := fs.Load(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Reload replaces the loaded factors with the enabled entries of configs.
// This enables hot-reloading of factors from the database.
func (fs *FactorSet) Reload(configs []*domain.RiskFactorConfig) error {
	next := make(map[string]*compiledFactor)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := fs.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	fs.mu.Lock()
	fs.compiled = next
	fs.mu.Unlock()
	return nil
}

// Count returns the number of loaded factors.
func (fs *FactorSet) Count() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.compiled)
}

// Loaded returns the currently loaded factor configurations.
func (fs *FactorSet) Loaded() []*domain.RiskFactorConfig {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	configs := make([]*domain.RiskFactorConfig, 0, len(fs.compiled))
	for _, c := range fs.compiled {
		configs = append(configs, c.config)
	}
	return configs
}

// Evaluate runs every loaded factor against the transaction and returns the
// factors that fired.
func (fs *FactorSet) Evaluate(tx *domain.Transaction, velocityCount int64) []FactorHit {
	fs.mu.RLock()
	factors := make([]*compiledFactor, 0, len(fs.compiled))
	for _, f := range fs.compiled {
		factors = append(factors, f)
	}
	fs.mu.RUnlock()

	if len(factors) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"channel":        string(tx.Channel),
		"merchant":       tx.Merchant,
		"country":        tx.Country,
		"hour":           int64(tx.Timestamp.Hour()),
		"velocity_count": velocityCount,
	}

	var hits []FactorHit
	for _, f := range factors {
		out, _, err := f.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			hits = append(hits, FactorHit{ID: f.config.ID, Points: f.config.Points})
		}
	}
	return hits
}

func (fs *FactorSet) compile(cfg *domain.RiskFactorConfig) (*compiledFactor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("factor config is required")
	}
	if cfg.Points < 0 {
		return nil, fmt.Errorf("factor %s: points must be non-negative", cfg.ID)
	}

	ast, issues := fs.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile factor %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("factor %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := fs.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for factor %s: %w", cfg.ID, err)
	}

	return &compiledFactor{
		config:  cfg,
		program: program,
	}, nil
}
