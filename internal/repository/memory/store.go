// Package memory provides an in-process implementation of the ledger store
// contract. It backs the unit tests and lets the server run without a
// database for local experiments. A single store-wide mutex stands in for
// serializable isolation: transactions run one at a time against a snapshot
// that is swapped in only on commit.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
)

type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	entries  []*domain.LedgerEntry

	// parent is non-nil on the snapshot a transaction runs against.
	parent *Store
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*domain.Account),
	}
}

var (
	_ domain.Store             = (*Store)(nil)
	_ domain.AccountRepository = (*Store)(nil)
	_ domain.EntryRepository   = (*Store)(nil)
)

func (s *Store) Accounts() domain.AccountRepository { return s }
func (s *Store) Entries() domain.EntryRepository    { return s }

// lock is a no-op inside a transaction: the parent store holds the mutex
// for the whole transaction.
func (s *Store) lock() func() {
	if s.parent != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTransaction(fn func(domain.Store) error) error {
	if s.parent != nil {
		return errors.ErrCannotBeginTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{
		accounts: make(map[uuid.UUID]*domain.Account, len(s.accounts)),
		entries:  append([]*domain.LedgerEntry(nil), s.entries...),
		parent:   s,
	}
	for id, account := range s.accounts {
		copied := *account
		tx.accounts[id] = &copied
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.accounts = tx.accounts
	s.entries = tx.entries
	return nil
}

// WithSnapshot runs fn against the live maps while holding the store mutex,
// which excludes writers for the duration and so gives fn one consistent
// read-only view.
func (s *Store) WithSnapshot(fn func(domain.Store) error) error {
	if s.parent != nil {
		return errors.ErrCannotBeginTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&Store{
		accounts: s.accounts,
		entries:  s.entries,
		parent:   s,
	})
}

func (s *Store) CreateAccount(account *domain.Account) error {
	defer s.lock()()

	if _, exists := s.accounts[account.ID]; exists {
		return errors.NewAppError(errors.InvalidInput, "account already exists")
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

func (s *Store) GetAccount(id uuid.UUID) (*domain.Account, error) {
	defer s.lock()()

	account, exists := s.accounts[id]
	if !exists {
		return nil, errors.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// GetAccountForUpdate is equivalent to GetAccount here: the store-wide
// mutex already serializes whole transactions.
func (s *Store) GetAccountForUpdate(id uuid.UUID) (*domain.Account, error) {
	return s.GetAccount(id)
}

func (s *Store) UpdateAccountBalance(id uuid.UUID, newBalance decimal.Decimal) error {
	defer s.lock()()

	account, exists := s.accounts[id]
	if !exists {
		return errors.ErrAccountNotFound
	}
	account.Balance = newBalance
	account.Version++
	account.UpdatedAt = time.Now()
	return nil
}

// CreateEntries appends the given entries to the log. The stored records
// alias the caller's pointers, which the tamper-detection tests rely on to
// simulate out-of-band corruption.
func (s *Store) CreateEntries(entries []*domain.LedgerEntry) error {
	defer s.lock()()

	s.entries = append(s.entries, entries...)
	return nil
}

// AcquireTransactionLock is a no-op here: the store-wide mutex already
// serializes whole transactions, so two postings of the same id can never
// overlap in the first place.
func (s *Store) AcquireTransactionLock(transactionID string) error {
	return nil
}

func (s *Store) TransactionExists(transactionID string) (bool, error) {
	defer s.lock()()

	for _, entry := range s.entries {
		if entry.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetEntriesByTransactionID(transactionID string) ([]*domain.LedgerEntry, error) {
	defer s.lock()()

	var matched []*domain.LedgerEntry
	for _, entry := range s.entries {
		if entry.TransactionID == transactionID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func matchesFilter(entry *domain.LedgerEntry, filter domain.EntryFilter) bool {
	if filter.AccountID != uuid.Nil && entry.AccountID != filter.AccountID {
		return false
	}
	if filter.Currency != "" && entry.Currency != filter.Currency {
		return false
	}
	if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
		return false
	}
	return true
}

func (s *Store) AggregateSums(filter domain.EntryFilter) (*domain.EntrySums, error) {
	defer s.lock()()

	sums := &domain.EntrySums{
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	for _, entry := range s.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		sums.TotalDebit = sums.TotalDebit.Add(entry.Debit)
		sums.TotalCredit = sums.TotalCredit.Add(entry.Credit)
		sums.EntriesCount++
		if sums.LastEntryAt == nil || entry.CreatedAt.After(*sums.LastEntryAt) {
			t := entry.CreatedAt
			sums.LastEntryAt = &t
		}
	}
	return sums, nil
}

func (s *Store) ListUnbalancedTransactionIDs(filter domain.EntryFilter, epsilon decimal.Decimal) ([]string, error) {
	defer s.lock()()

	perTransaction := make(map[string]decimal.Decimal)
	for _, entry := range s.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		perTransaction[entry.TransactionID] = perTransaction[entry.TransactionID].
			Add(entry.Debit).Sub(entry.Credit)
	}

	var ids []string
	for id, diff := range perTransaction {
		if diff.Abs().GreaterThan(epsilon) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListTransactionIDs() ([]string, error) {
	defer s.lock()()

	seen := make(map[string]struct{})
	var ids []string
	for _, entry := range s.entries {
		if _, ok := seen[entry.TransactionID]; ok {
			continue
		}
		seen[entry.TransactionID] = struct{}{}
		ids = append(ids, entry.TransactionID)
	}
	sort.Strings(ids)
	return ids, nil
}
