// Package ledger implements the double-entry posting engine: balanced
// transaction posting, balance derivation from the entry log, checksum
// verification and reconciliation.
package ledger

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
)

// BalancePrecision is the fixed number of decimal places cached balances
// are rounded to when a delta is applied.
const BalancePrecision = 8

// Epsilon is the tolerance under which two amounts are treated as equal.
// It exists to absorb rounding in caller-supplied values; the arithmetic
// itself is exact decimal.
var Epsilon = decimal.New(1, -6) // 0.000001

type Engine struct {
	store  domain.Store
	logger *slog.Logger
}

func NewEngine(store domain.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
	}
}

// EntrySpec describes one side of a transaction to be posted.
type EntrySpec struct {
	AccountID   uuid.UUID
	Currency    string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	EntryType   domain.EntryType
	Description string
}

// BalanceResult compares the balance derived from the entry log with the
// cached value on the account row.
type BalanceResult struct {
	AccountID       uuid.UUID       `json:"account_id"`
	Currency        string          `json:"currency"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	CachedBalance   decimal.Decimal `json:"cached_balance"`
	IsConsistent    bool            `json:"is_consistent"`
	LastEntryAt     *time.Time      `json:"last_entry_at,omitempty"`
}

// ReconciliationResult reports whether total debits equal total credits
// over some slice of the entry log.
type ReconciliationResult struct {
	IsBalanced               bool            `json:"is_balanced"`
	TotalDebit               decimal.Decimal `json:"total_debit"`
	TotalCredit              decimal.Decimal `json:"total_credit"`
	Discrepancy              decimal.Decimal `json:"discrepancy"`
	EntriesChecked           int64           `json:"entries_checked"`
	Currency                 string          `json:"currency,omitempty"`
	CheckedAt                time.Time       `json:"checked_at"`
	DiscrepantTransactionIDs []string        `json:"discrepant_transaction_ids"`
}

// IntegrityReport is the outcome of a full integrity sweep.
type IntegrityReport struct {
	TransactionsChecked  int       `json:"transactions_checked"`
	FailedTransactionIDs []string  `json:"failed_transaction_ids"`
	CheckedAt            time.Time `json:"checked_at"`
}

// PostDoubleEntry validates and posts one balanced transaction. Validation
// that needs no storage runs first; everything that touches storage runs
// inside a single storage transaction holding the transaction-id lock and
// the affected account rows, so a failure at any step leaves no trace.
func (e *Engine) PostDoubleEntry(transactionID string, specs []EntrySpec) ([]*domain.LedgerEntry, error) {
	e.logger.Info("Posting double entry",
		"transaction_id", transactionID,
		"entry_count", len(specs))

	if transactionID == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "transaction id is required")
	}
	if err := validateEntrySpecs(specs); err != nil {
		return nil, err
	}

	var posted []*domain.LedgerEntry

	err := e.store.WithTransaction(func(tx domain.Store) error {
		// Serialize on the transaction id before anything else. Account row
		// locks alone cannot enforce at-most-once: two postings of the same
		// id over disjoint account sets would never contend on a row. With
		// the id lock held, the existence check below is race-free.
		if err := tx.Entries().AcquireTransactionLock(transactionID); err != nil {
			return err
		}
		if err := e.rejectDuplicate(tx, transactionID); err != nil {
			return err
		}

		// Lock accounts in sorted id order, regardless of the order the
		// entries arrive in, so two postings touching the same accounts
		// can never deadlock on each other.
		accounts := make(map[uuid.UUID]*domain.Account, len(specs))
		for _, id := range sortedAccountIDs(specs) {
			account, err := tx.Accounts().GetAccountForUpdate(id)
			if err != nil {
				if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.AccountNotFound {
					return errors.NewAppErrorf(errors.AccountNotFound, "account %s not found", id)
				}
				return err
			}
			accounts[id] = account
		}

		deltas := make(map[uuid.UUID]decimal.Decimal, len(accounts))
		now := time.Now()
		posted = make([]*domain.LedgerEntry, 0, len(specs))

		for _, spec := range specs {
			account := accounts[spec.AccountID]
			if account.Currency != spec.Currency {
				return errors.NewAppErrorf(errors.CurrencyMismatch,
					"account %s holds %s, entry is %s", account.ID, account.Currency, spec.Currency)
			}

			entry := &domain.LedgerEntry{
				ID:            uuid.New(),
				TransactionID: transactionID,
				AccountID:     spec.AccountID,
				Debit:         spec.Debit,
				Credit:        spec.Credit,
				Currency:      spec.Currency,
				EntryType:     spec.EntryType,
				Description:   spec.Description,
				CreatedAt:     now,
			}
			entry.Checksum = domain.ComputeChecksum(
				entry.TransactionID, entry.AccountID,
				entry.Debit, entry.Credit,
				entry.Currency, entry.EntryType)
			posted = append(posted, entry)

			deltas[spec.AccountID] = deltas[spec.AccountID].Add(spec.Credit.Sub(spec.Debit))
		}

		for _, id := range sortedAccountIDs(specs) {
			account := accounts[id]
			newBalance := account.Balance.Add(deltas[id]).Round(BalancePrecision)
			if err := tx.Accounts().UpdateAccountBalance(id, newBalance); err != nil {
				return err
			}
		}

		return tx.Entries().CreateEntries(posted)
	})

	if err != nil {
		e.logger.Error("Posting failed", "transaction_id", transactionID, "error", err)
		return nil, err
	}

	e.logger.Info("Double entry posted", "transaction_id", transactionID, "entry_count", len(posted))
	return posted, nil
}

func (e *Engine) rejectDuplicate(tx domain.Store, transactionID string) error {
	exists, err := tx.Entries().TransactionExists(transactionID)
	if err != nil {
		return err
	}
	if exists {
		e.logger.Warn("Duplicate transaction rejected", "transaction_id", transactionID)
		return errors.NewAppErrorf(errors.DuplicateTransaction,
			"transaction %s has already been posted", transactionID)
	}
	return nil
}

func validateEntrySpecs(specs []EntrySpec) error {
	if len(specs) == 0 {
		return errors.NewAppError(errors.InvalidInput, "at least one entry is required")
	}

	perCurrency := make(map[string]decimal.Decimal)
	for i, spec := range specs {
		if spec.AccountID == uuid.Nil {
			return errors.NewAppErrorf(errors.InvalidInput, "entry %d: account id is required", i)
		}
		if spec.Currency == "" {
			return errors.NewAppErrorf(errors.InvalidInput, "entry %d: currency is required", i)
		}
		if spec.Debit.IsNegative() || spec.Credit.IsNegative() {
			return errors.NewAppErrorf(errors.InvalidAmount, "entry %d: amounts must not be negative", i)
		}

		debitSet := spec.Debit.IsPositive()
		creditSet := spec.Credit.IsPositive()
		if debitSet == creditSet {
			return errors.NewAppErrorf(errors.InvalidInput,
				"entry %d: exactly one of debit or credit must be non-zero", i)
		}
		if debitSet && spec.EntryType != domain.EntryTypeDebit ||
			creditSet && spec.EntryType != domain.EntryTypeCredit {
			return errors.NewAppErrorf(errors.InvalidInput,
				"entry %d: entry type %q does not match the side that is set", i, spec.EntryType)
		}

		perCurrency[spec.Currency] = perCurrency[spec.Currency].Add(spec.Debit).Sub(spec.Credit)
	}

	for currency, diff := range perCurrency {
		if diff.Abs().GreaterThanOrEqual(Epsilon) {
			return errors.NewAppErrorf(errors.UnbalancedEntries,
				"debits and credits do not balance for %s (difference %s)", currency, diff.String())
		}
	}

	return nil
}

func sortedAccountIDs(specs []EntrySpec) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(specs))
	ids := make([]uuid.UUID, 0, len(specs))
	for _, spec := range specs {
		if _, ok := seen[spec.AccountID]; ok {
			continue
		}
		seen[spec.AccountID] = struct{}{}
		ids = append(ids, spec.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// GetAccountBalance derives the account's balance from the entry log and
// compares it against the cached value on the account row. The computed
// value is authoritative; isConsistent flags drift for alerting. Both reads
// happen against one snapshot: a posting committing between them would
// otherwise make a healthy account look inconsistent.
func (e *Engine) GetAccountBalance(accountID uuid.UUID, currency string) (*BalanceResult, error) {
	var account *domain.Account
	var sums *domain.EntrySums

	err := e.store.WithSnapshot(func(tx domain.Store) error {
		var err error
		if account, err = tx.Accounts().GetAccount(accountID); err != nil {
			return err
		}
		sums, err = tx.Entries().AggregateSums(domain.EntryFilter{
			AccountID: accountID,
			Currency:  currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	computed := sums.TotalCredit.Sub(sums.TotalDebit)
	result := &BalanceResult{
		AccountID:       accountID,
		Currency:        currency,
		ComputedBalance: computed,
		CachedBalance:   account.Balance,
		IsConsistent:    computed.Sub(account.Balance).Abs().LessThan(Epsilon),
		LastEntryAt:     sums.LastEntryAt,
	}

	if !result.IsConsistent {
		e.logger.Warn("Cached balance has drifted from entry log",
			"account_id", accountID,
			"currency", currency,
			"computed", computed,
			"cached", account.Balance)
	}

	return result, nil
}

// VerifyTransactionIntegrity recomputes every entry checksum for the
// transaction and re-checks per-currency balance. A transaction with no
// entries is vacuously valid. Details go to the log; the caller gets a
// single verdict.
func (e *Engine) VerifyTransactionIntegrity(transactionID string) (bool, error) {
	entries, err := e.store.Entries().GetEntriesByTransactionID(transactionID)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}

	perCurrency := make(map[string]decimal.Decimal)
	for _, entry := range entries {
		if !entry.VerifyChecksum() {
			e.logger.Warn("Checksum mismatch detected",
				"transaction_id", transactionID,
				"entry_id", entry.ID,
				"account_id", entry.AccountID)
			return false, nil
		}
		perCurrency[entry.Currency] = perCurrency[entry.Currency].Add(entry.Debit).Sub(entry.Credit)
	}

	for currency, diff := range perCurrency {
		if diff.Abs().GreaterThanOrEqual(Epsilon) {
			e.logger.Warn("Transaction no longer balances",
				"transaction_id", transactionID,
				"currency", currency,
				"difference", diff)
			return false, nil
		}
	}

	return true, nil
}

// Reconcile checks that total debits equal total credits across the
// matching slice of the entry log, and enumerates the offending
// transactions when they do not. An empty ledger reconciles as balanced.
// The totals and the offender list come from one snapshot so they always
// describe the same state of the log.
func (e *Engine) Reconcile(filter domain.EntryFilter) (*ReconciliationResult, error) {
	var result *ReconciliationResult

	err := e.store.WithSnapshot(func(tx domain.Store) error {
		sums, err := tx.Entries().AggregateSums(filter)
		if err != nil {
			return err
		}

		discrepancy := sums.TotalDebit.Sub(sums.TotalCredit).Abs()
		result = &ReconciliationResult{
			IsBalanced:               discrepancy.LessThan(Epsilon),
			TotalDebit:               sums.TotalDebit,
			TotalCredit:              sums.TotalCredit,
			Discrepancy:              discrepancy,
			EntriesChecked:           sums.EntriesCount,
			Currency:                 filter.Currency,
			CheckedAt:                time.Now(),
			DiscrepantTransactionIDs: []string{},
		}

		if !result.IsBalanced {
			ids, err := tx.Entries().ListUnbalancedTransactionIDs(filter, Epsilon)
			if err != nil {
				return err
			}
			result.DiscrepantTransactionIDs = ids
			e.logger.Warn("Reconciliation found a discrepancy",
				"discrepancy", discrepancy,
				"entries_checked", sums.EntriesCount,
				"discrepant_transactions", len(ids))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RunIntegrityValidation verifies every transaction in the entry log and
// reports the ones that fail. Meant to be driven on a schedule, with the
// failures forwarded to alerting by the caller.
func (e *Engine) RunIntegrityValidation() (*IntegrityReport, error) {
	ids, err := e.store.Entries().ListTransactionIDs()
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		TransactionsChecked:  len(ids),
		FailedTransactionIDs: []string{},
		CheckedAt:            time.Now(),
	}

	for _, id := range ids {
		ok, err := e.VerifyTransactionIntegrity(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			report.FailedTransactionIDs = append(report.FailedTransactionIDs, id)
		}
	}

	if len(report.FailedTransactionIDs) > 0 {
		e.logger.Error("Integrity validation found failures",
			"transactions_checked", report.TransactionsChecked,
			"failed", len(report.FailedTransactionIDs))
	} else {
		e.logger.Info("Integrity validation passed",
			"transactions_checked", report.TransactionsChecked)
	}

	return report, nil
}
