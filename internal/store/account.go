package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tinyblog/blog/types"
)

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id int) (types.Account, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE id = ?`)
	var account types.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}
	return account, nil
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE username = ?`)
	var account types.Account
	if err := r.db.GetContext(ctx, &account, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("get account by username: %w", err)
	}
	return account, nil
}

// Create inserts a new account. A duplicate username yields ErrConflict,
// including when two registrations race past the service-level check.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	account.CreatedAt = time.Now().UTC()

	query := r.db.Rebind(`
		INSERT INTO accounts (username, password_hash, created_at)
		VALUES (?, ?, ?)
		RETURNING id`)
	if err := r.db.QueryRowxContext(
		ctx,
		query,
		account.Username,
		account.PasswordHash,
		account.CreatedAt,
	).Scan(&account.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrConflict
		}
		return types.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}
