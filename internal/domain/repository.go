// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txID string, status TxStatus) error

	// CountRecentTransactions returns the number of transactions submitted
	// by a user with a timestamp at or after since. Used by the velocity
	// evaluator.
	CountRecentTransactions(ctx context.Context, userID string, since time.Time) (int64, error)

	// Verification session audit trail. Sessions are written through on
	// creation and on every terminal transition; they are never deleted.
	SaveSession(ctx context.Context, s *VerificationSession) error
	GetSession(ctx context.Context, sessionID string) (*VerificationSession, error)

	// Attempt log (append-only)
	SaveAttempt(ctx context.Context, a *VerificationAttempt) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]*VerificationAttempt, error)

	// Custom risk factor configuration
	SaveRiskFactor(ctx context.Context, f *RiskFactorConfig) error
	ListRiskFactors(ctx context.Context) ([]*RiskFactorConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
