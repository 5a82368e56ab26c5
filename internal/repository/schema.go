package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant TEXT,
    channel TEXT NOT NULL,
    country TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    decision TEXT,
    risk_score INTEGER NOT NULL DEFAULT 0,
    reasons TEXT,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_timestamp ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const schemaSessions = `
CREATE TABLE IF NOT EXISTS verification_sessions (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    steps TEXT NOT NULL,
    current_step INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_transaction ON verification_sessions(transaction_id);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON verification_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON verification_sessions(status);
`

const schemaAttempts = `
CREATE TABLE IF NOT EXISTS verification_attempts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    method TEXT NOT NULL,
    result TEXT NOT NULL,
    reasons TEXT,
    attempts_count INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    data TEXT
);

CREATE INDEX IF NOT EXISTS idx_attempts_user ON verification_attempts(user_id);
CREATE INDEX IF NOT EXISTS idx_attempts_transaction ON verification_attempts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_attempts_method ON verification_attempts(method);
`

const schemaRiskFactors = `
CREATE TABLE IF NOT EXISTS risk_factors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    points INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_factors_enabled ON risk_factors(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaSessions,
		schemaAttempts,
		schemaRiskFactors,
	}
}
