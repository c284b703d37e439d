package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// AccountRepo implements storage.AccountRepository using PostgreSQL.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new PostgreSQL account repository.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const upsertAccount = `
INSERT INTO watched_accounts (network, address, label)
VALUES (:network, :address, :label)
ON CONFLICT (network, address) DO UPDATE SET label = EXCLUDED.label`

// Save saves a watched account to the database.
func (r *AccountRepo) Save(ctx context.Context, account *domain.WatchedAccount) error {
	if _, err := r.db.NamedExecContext(ctx, upsertAccount, account); err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.Address, err)
	}
	return nil
}

// Delete removes a watched account.
func (r *AccountRepo) Delete(ctx context.Context, network domain.Network, address string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM watched_accounts WHERE network = $1 AND address = $2`,
		network, address,
	)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", address, err)
	}
	return nil
}

// Get retrieves a watched account.
func (r *AccountRepo) Get(
	ctx context.Context,
	network domain.Network,
	address string,
) (*domain.WatchedAccount, error) {
	var account domain.WatchedAccount
	err := r.db.GetContext(ctx, &account,
		`SELECT network, address, label, created_at FROM watched_accounts WHERE network = $1 AND address = $2`,
		network, address,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return &account, nil
}

// List retrieves all watched accounts of a network.
func (r *AccountRepo) List(ctx context.Context, network domain.Network) ([]*domain.WatchedAccount, error) {
	var accounts []*domain.WatchedAccount
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT network, address, label, created_at FROM watched_accounts WHERE network = $1 ORDER BY created_at`,
		network,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
