package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
)

// Store is the Postgres-backed unit of work. Outside WithTransaction the
// repositories run against the pool; inside they share one sql.Tx.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance backed by the given pool.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

var _ domain.Store = (*Store)(nil)

// Accounts returns an AccountRepository using the current executor.
func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Entries returns the entry log using the current executor.
func (s *Store) Entries() domain.EntryRepository {
	return NewEntryRepository(s.executor, s.logger)
}

// WithTransaction executes fn within one database transaction. Strictness
// comes from the locking discipline, not the isolation level: every posting
// takes an advisory lock on its transaction id and FOR UPDATE locks on all
// touched account rows before reading or writing shared state, so
// conflicting transactions queue on the locks instead of tripping
// serialization failures and needing retries.
func (s *Store) WithTransaction(fn func(domain.Store) error) error {
	return s.begin(&sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

// WithSnapshot executes fn within one read-only transaction pinned to a
// single snapshot, so every read inside fn sees the same committed state.
// A read-only REPEATABLE READ transaction cannot hit a serialization
// failure, so no retry handling is needed.
func (s *Store) WithSnapshot(fn func(domain.Store) error) error {
	return s.begin(&sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *Store) begin(opts *sql.TxOptions, fn func(domain.Store) error) error {
	// Only the pool can begin transactions; nesting is a programming error.
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.BeginTx(context.Background(), opts)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return errors.NewAppError(errors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}

	txStore := &Store{
		executor: &TxWrapper{Tx: tx},
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
