// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction, replacing any existing row with the
// same ID so the scored decision can be written back.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(tx.Reasons)

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, merchant, channel, country,
			timestamp, created_at, decision, risk_score, reasons, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			decision = excluded.decision,
			risk_score = excluded.risk_score,
			reasons = excluded.reasons,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Currency,
		tx.Merchant, string(tx.Channel), tx.Country,
		tx.Timestamp, tx.CreatedAt,
		string(tx.Decision), tx.RiskScore, string(reasons), string(tx.Status),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, amount, currency, merchant, channel, country,
			   timestamp, created_at, decision, risk_score, reasons, status
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var channel, decision, reasons, status string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency,
		&tx.Merchant, &channel, &tx.Country,
		&tx.Timestamp, &tx.CreatedAt,
		&decision, &tx.RiskScore, &reasons, &status,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Channel = domain.Channel(channel)
	tx.Decision = domain.Decision(decision)
	tx.Status = domain.TxStatus(status)
	if reasons != "" {
		json.Unmarshal([]byte(reasons), &tx.Reasons)
	}

	return &tx, nil
}

// UpdateTransactionStatus sets the lifecycle status of a transaction.
func (r *SQLRepository) UpdateTransactionStatus(ctx context.Context, txID string, status domain.TxStatus) error {
	if txID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `UPDATE transactions SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountRecentTransactions counts a user's transactions with a timestamp at or
// after since.
func (r *SQLRepository) CountRecentTransactions(ctx context.Context, userID string, since time.Time) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ?
		AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

// SaveSession stores a verification session, replacing any existing row so
// terminal transitions overwrite the active record.
func (r *SQLRepository) SaveSession(ctx context.Context, s *domain.VerificationSession) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: session ID is required", ErrInvalidInput)
	}

	steps, _ := json.Marshal(s.Steps)

	query := `
		INSERT INTO verification_sessions (
			id, transaction_id, user_id, steps, current_step,
			status, risk_level, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			steps = excluded.steps,
			current_step = excluded.current_step,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.TransactionID, s.UserID, string(steps), s.CurrentStep,
		string(s.Status), string(s.RiskLevel), s.ExpiresAt, s.CreatedAt,
	)
	return err
}

// GetSession retrieves a persisted verification session by ID.
func (r *SQLRepository) GetSession(ctx context.Context, sessionID string) (*domain.VerificationSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, transaction_id, user_id, steps, current_step,
			   status, risk_level, expires_at, created_at
		FROM verification_sessions
		WHERE id = ?
	`

	var s domain.VerificationSession
	var steps, status, riskLevel string

	err := r.db.QueryRowContext(ctx, r.rebind(query), sessionID).Scan(
		&s.ID, &s.TransactionID, &s.UserID, &steps, &s.CurrentStep,
		&status, &riskLevel, &s.ExpiresAt, &s.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Status = domain.SessionStatus(status)
	s.RiskLevel = domain.RiskLevel(riskLevel)
	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse session steps: %w", err)
	}

	return &s, nil
}

// SaveAttempt appends a verification attempt to the audit log.
func (r *SQLRepository) SaveAttempt(ctx context.Context, a *domain.VerificationAttempt) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: attempt ID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(a.Reasons)
	data, _ := json.Marshal(a.Data)

	query := `
		INSERT INTO verification_attempts (
			id, user_id, transaction_id, method, result, reasons,
			attempts_count, created_at, completed_at, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.UserID, a.TransactionID, string(a.Method), string(a.Result),
		string(reasons), a.AttemptsCount, a.CreatedAt, a.CompletedAt, string(data),
	)
	return err
}

// ListAttempts retrieves attempts matching the filter, newest first.
func (r *SQLRepository) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]*domain.VerificationAttempt, error) {
	query := `
		SELECT id, user_id, transaction_id, method, result, reasons,
			   attempts_count, created_at, completed_at, data
		FROM verification_attempts
		WHERE (? = '' OR user_id = ?)
		  AND (? = '' OR method = ?)
		  AND (? = '' OR result = ?)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		filter.UserID, filter.UserID,
		string(filter.Method), string(filter.Method),
		string(filter.Result), string(filter.Result),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.VerificationAttempt
	for rows.Next() {
		var a domain.VerificationAttempt
		var method, result, reasons, data string
		var completedAt sql.NullTime

		if err := rows.Scan(
			&a.ID, &a.UserID, &a.TransactionID, &method, &result, &reasons,
			&a.AttemptsCount, &a.CreatedAt, &completedAt, &data,
		); err != nil {
			return nil, err
		}

		a.Method = domain.Method(method)
		a.Result = domain.StepResult(result)
		if completedAt.Valid {
			t := completedAt.Time
			a.CompletedAt = &t
		}
		if reasons != "" {
			json.Unmarshal([]byte(reasons), &a.Reasons)
		}
		if data != "" && data != "null" {
			var decoded any
			if json.Unmarshal([]byte(data), &decoded) == nil {
				a.Data = decoded
			}
		}

		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

// SaveRiskFactor stores a custom risk factor configuration.
func (r *SQLRepository) SaveRiskFactor(ctx context.Context, f *domain.RiskFactorConfig) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: factor ID is required", ErrInvalidInput)
	}

	enabled := 0
	if f.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO risk_factors (
			id, name, description, expression, points, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			points = excluded.points,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, f.Name, f.Description, f.Expression, f.Points, enabled,
		now, now,
	)
	return err
}

// ListRiskFactors retrieves all enabled risk factor configurations.
func (r *SQLRepository) ListRiskFactors(ctx context.Context) ([]*domain.RiskFactorConfig, error) {
	query := `
		SELECT id, name, description, expression, points, enabled
		FROM risk_factors
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RiskFactorConfig
	for rows.Next() {
		var cfg domain.RiskFactorConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression, &cfg.Points, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
