package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType distinguishes the two sides of a double-entry posting.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// ChecksumPrecision is the number of decimal places amounts are rendered
// with when hashed, so the checksum is stable across storage round-trips.
const ChecksumPrecision = 8

// LedgerEntry is one immutable side of a posted transaction. Entries are
// created once by the ledger engine and never updated or deleted; there is
// deliberately no mutation API anywhere in the repository contract.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Currency      string          `json:"currency"`
	EntryType     EntryType       `json:"entry_type"`
	Description   string          `json:"description,omitempty"`
	Checksum      string          `json:"checksum"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ComputeChecksum hashes the fields that define an entry once posted.
// The stored checksum is never recomputed after creation; verification
// recomputes it from the persisted fields and compares.
func ComputeChecksum(transactionID string, accountID uuid.UUID, debit, credit decimal.Decimal, currency string, entryType EntryType) string {
	payload := strings.Join([]string{
		transactionID,
		accountID.String(),
		debit.StringFixed(ChecksumPrecision),
		credit.StringFixed(ChecksumPrecision),
		currency,
		string(entryType),
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the entry's checksum from its persisted fields
// and reports whether it matches the stored one.
func (e *LedgerEntry) VerifyChecksum() bool {
	return e.Checksum == ComputeChecksum(e.TransactionID, e.AccountID, e.Debit, e.Credit, e.Currency, e.EntryType)
}

// EntryFilter narrows aggregate queries over the entry log. Zero values
// mean "no constraint".
type EntryFilter struct {
	AccountID uuid.UUID
	Currency  string
	From      time.Time
	To        time.Time
}

// EntrySums holds the aggregate totals of a slice of the entry log.
type EntrySums struct {
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	EntriesCount int64
	LastEntryAt  *time.Time
}

// EntryRepository is the append-only entry log. There is no update or
// delete: immutability is part of the contract, and the schema enforces
// it again underneath.
type EntryRepository interface {
	CreateEntries(entries []*LedgerEntry) error
	// AcquireTransactionLock takes an exclusive lock on the transaction id
	// itself, held until the surrounding storage transaction ends. Two
	// postings of the same id always serialize on it, even when they touch
	// disjoint account sets and so share no row locks.
	AcquireTransactionLock(transactionID string) error
	TransactionExists(transactionID string) (bool, error)
	GetEntriesByTransactionID(transactionID string) ([]*LedgerEntry, error)
	AggregateSums(filter EntryFilter) (*EntrySums, error)
	ListUnbalancedTransactionIDs(filter EntryFilter, epsilon decimal.Decimal) ([]string, error)
	ListTransactionIDs() ([]string, error)
}
