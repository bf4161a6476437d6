package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a ledger-tracked account. The balance column is a cache: the
// authoritative value is always derivable from the entry log, and the
// engine treats any disagreement between the two as drift to alert on.
type Account struct {
	ID        uuid.UUID       `json:"account_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"account_type"`
	Currency  string          `json:"currency"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	IsSystem  bool            `json:"is_system"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type AccountRepository interface {
	CreateAccount(account *Account) error
	GetAccount(id uuid.UUID) (*Account, error)
	// GetAccountForUpdate acquires the account row exclusively for the
	// duration of the surrounding storage transaction.
	GetAccountForUpdate(id uuid.UUID) (*Account, error)
	UpdateAccountBalance(id uuid.UUID, newBalance decimal.Decimal) error
}

// Store is the unit-of-work contract the ledger engine runs against.
// WithTransaction executes fn inside one atomic, serializable storage
// transaction; any error from fn rolls everything back. WithSnapshot
// executes fn against a single consistent read-only view, so multiple
// reads inside fn cannot observe a concurrent commit in between.
type Store interface {
	Accounts() AccountRepository
	Entries() EntryRepository
	WithTransaction(fn func(Store) error) error
	WithSnapshot(fn func(Store) error) error
}
