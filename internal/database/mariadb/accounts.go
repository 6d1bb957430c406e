package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

// AccountRepository provides MariaDB-backed account storage
type AccountRepository struct {
	pool *Pool
}

// NewAccountRepository creates a new MariaDB account repository
func NewAccountRepository(pool *Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetAccount retrieves an account by username
func (r *AccountRepository) GetAccount(ctx context.Context, username string) (*database.Account, error) {
	var acc database.Account
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM accounts WHERE username = ?`, username,
	).Scan(&acc.Username, &acc.PasswordHash, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", username, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &acc, nil
}

// Register creates the account and its template in one transaction.
func (r *AccountRepository) Register(ctx context.Context, account database.Account, emb facematch.Embedding) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO accounts (username, password_hash) VALUES (?, ?)`,
		account.Username, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %q: %w", account.Username, database.ErrDuplicateIdentity)
	}

	if err := insertTemplate(ctx, tx, account.Username, emb); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registration: %w", err)
	}
	return nil
}

// RecordLoginAttempt stores the result of one login attempt.
func (r *AccountRepository) RecordLoginAttempt(ctx context.Context, attempt database.LoginAttempt) error {
	_, err := r.pool.db.ExecContext(ctx,
		`INSERT INTO login_attempts (attempt_id, username, method, success, reason) VALUES (?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`,
		attempt.AttemptID, attempt.Username, attempt.Method, attempt.Success, attempt.Reason)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}
