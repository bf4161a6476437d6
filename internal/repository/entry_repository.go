package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
)

type entryRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

// NewEntryRepository returns the Postgres entry log. The interface carries
// no update or delete: the ledger_entries schema additionally rejects both
// with a trigger, so even raw SQL cannot rewrite history silently.
func NewEntryRepository(db SQLExecutor, logger *slog.Logger) domain.EntryRepository {
	return &entryRepository{
		db:     db,
		logger: logger,
	}
}

func (r *entryRepository) CreateEntries(entries []*domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, transaction_id, account_id, debit, credit, currency, entry_type, description, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, entry := range entries {
		_, err := r.db.Exec(
			query,
			entry.ID,
			entry.TransactionID,
			entry.AccountID,
			entry.Debit.String(),
			entry.Credit.String(),
			entry.Currency,
			entry.EntryType,
			entry.Description,
			entry.Checksum,
			entry.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert ledger entry",
				"transaction_id", entry.TransactionID,
				"account_id", entry.AccountID,
				"error", err)
			return errors.NewAppError(errors.InternalError, "failed to insert ledger entry").WithDetails(err.Error())
		}
	}

	return nil
}

// AcquireTransactionLock serializes postings of the same transaction id on
// an advisory lock keyed by the id. pg_advisory_xact_lock blocks until the
// lock is free and releases it when the transaction commits or rolls back,
// so a duplicate posting always waits for the first one to finish and then
// sees its committed entries.
func (r *entryRepository) AcquireTransactionLock(transactionID string) error {
	if _, err := r.db.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, transactionID); err != nil {
		r.logger.Error("Failed to acquire transaction lock", "transaction_id", transactionID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to acquire transaction lock").WithDetails(err.Error())
	}
	return nil
}

func (r *entryRepository) TransactionExists(transactionID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE transaction_id = $1)`

	var exists bool
	if err := r.db.QueryRow(query, transactionID).Scan(&exists); err != nil {
		r.logger.Error("Failed to check transaction existence", "transaction_id", transactionID, "error", err)
		return false, errors.NewAppError(errors.InternalError, "failed to check transaction existence").WithDetails(err.Error())
	}
	return exists, nil
}

func (r *entryRepository) GetEntriesByTransactionID(transactionID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT id, transaction_id, account_id, debit, credit, currency, entry_type, description, checksum, created_at
		FROM ledger_entries WHERE transaction_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(query, transactionID)
	if err != nil {
		r.logger.Error("Failed to query entries", "transaction_id", transactionID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to query entries").WithDetails(err.Error())
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read entries").WithDetails(err.Error())
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var debitStr, creditStr string

	err := rows.Scan(
		&entry.ID,
		&entry.TransactionID,
		&entry.AccountID,
		&debitStr,
		&creditStr,
		&entry.Currency,
		&entry.EntryType,
		&entry.Description,
		&entry.Checksum,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to scan entry").WithDetails(err.Error())
	}

	if entry.Debit, err = decimal.NewFromString(debitStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse debit").WithDetails(err.Error())
	}
	if entry.Credit, err = decimal.NewFromString(creditStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse credit").WithDetails(err.Error())
	}

	return &entry, nil
}

// filterClause renders the optional account/currency/date-range filter as a
// WHERE fragment with positional args starting at $1.
func filterClause(filter domain.EntryFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.AccountID != uuid.Nil {
		args = append(args, filter.AccountID)
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Currency != "" {
		args = append(args, filter.Currency)
		conditions = append(conditions, fmt.Sprintf("currency = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *entryRepository) AggregateSums(filter domain.EntryFilter) (*domain.EntrySums, error) {
	where, args := filterClause(filter)
	query := `
		SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0), COUNT(*), MAX(created_at)
		FROM ledger_entries` + where

	var debitStr, creditStr string
	var count int64
	var lastEntryAt sql.NullTime

	err := r.db.QueryRow(query, args...).Scan(&debitStr, &creditStr, &count, &lastEntryAt)
	if err != nil {
		r.logger.Error("Failed to aggregate entry sums", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to aggregate entry sums").WithDetails(err.Error())
	}

	sums := &domain.EntrySums{EntriesCount: count}
	if sums.TotalDebit, err = decimal.NewFromString(debitStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse debit total").WithDetails(err.Error())
	}
	if sums.TotalCredit, err = decimal.NewFromString(creditStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse credit total").WithDetails(err.Error())
	}
	if lastEntryAt.Valid {
		t := lastEntryAt.Time
		sums.LastEntryAt = &t
	}

	return sums, nil
}

func (r *entryRepository) ListUnbalancedTransactionIDs(filter domain.EntryFilter, epsilon decimal.Decimal) ([]string, error) {
	where, args := filterClause(filter)
	args = append(args, epsilon.String())
	query := fmt.Sprintf(`
		SELECT transaction_id
		FROM ledger_entries%s
		GROUP BY transaction_id
		HAVING ABS(SUM(debit) - SUM(credit)) > $%d
		ORDER BY transaction_id
	`, where, len(args))

	return r.scanTransactionIDs(query, args...)
}

func (r *entryRepository) ListTransactionIDs() ([]string, error) {
	query := `SELECT DISTINCT transaction_id FROM ledger_entries ORDER BY transaction_id`
	return r.scanTransactionIDs(query)
}

func (r *entryRepository) scanTransactionIDs(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query transaction ids", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to query transaction ids").WithDetails(err.Error())
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan transaction id").WithDetails(err.Error())
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read transaction ids").WithDetails(err.Error())
	}

	return ids, nil
}
