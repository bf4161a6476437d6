// Package scheduler drives the periodic ledger checks: the integrity sweep
// and the full reconciliation. It forwards failures to an alert publisher;
// it performs no alerting of its own beyond logging.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/ledger"
)

// AlertPublisher forwards structured alerts to an external channel.
type AlertPublisher interface {
	Publish(topic string, event any) error
}

// IntegrityAlert is emitted when the integrity sweep finds transactions
// whose checksums or balances no longer verify.
type IntegrityAlert struct {
	TransactionsChecked  int       `json:"transactions_checked"`
	FailedTransactionIDs []string  `json:"failed_transaction_ids"`
	CheckedAt            time.Time `json:"checked_at"`
}

// ReconciliationAlert is emitted when the ledger-wide debit and credit
// totals disagree.
type ReconciliationAlert struct {
	TotalDebit               string    `json:"total_debit"`
	TotalCredit              string    `json:"total_credit"`
	Discrepancy              string    `json:"discrepancy"`
	EntriesChecked           int64     `json:"entries_checked"`
	DiscrepantTransactionIDs []string  `json:"discrepant_transaction_ids"`
	CheckedAt                time.Time `json:"checked_at"`
}

type Scheduler struct {
	engine    *ledger.Engine
	publisher AlertPublisher
	logger    *slog.Logger

	integrityInterval time.Duration
	reconcileInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(engine *ledger.Engine, publisher AlertPublisher, integrityInterval, reconcileInterval time.Duration, logger *slog.Logger) *Scheduler {
	if integrityInterval <= 0 {
		integrityInterval = time.Hour
	}
	if reconcileInterval <= 0 {
		reconcileInterval = 24 * time.Hour
	}
	return &Scheduler{
		engine:            engine,
		publisher:         publisher,
		logger:            logger,
		integrityInterval: integrityInterval,
		reconcileInterval: reconcileInterval,
	}
}

// Start launches both jobs. Each runs independently on its own ticker and
// shares no state with the other.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.runPeriodically(ctx, s.integrityInterval, "integrity_sweep", s.RunIntegritySweep)
	go s.runPeriodically(ctx, s.reconcileInterval, "reconciliation", s.RunReconciliation)
}

// Stop cancels the jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runPeriodically(ctx context.Context, interval time.Duration, name string, job func() error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Scheduled job started", "job", name, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduled job stopped", "job", name)
			return
		case <-ticker.C:
			if err := job(); err != nil {
				s.logger.Error("Scheduled job failed", "job", name, "error", err)
			}
		}
	}
}

// RunIntegritySweep verifies every transaction in the entry log and
// publishes an alert listing the ones that fail.
func (s *Scheduler) RunIntegritySweep() error {
	report, err := s.engine.RunIntegrityValidation()
	if err != nil {
		return err
	}

	if len(report.FailedTransactionIDs) == 0 {
		return nil
	}

	alert := IntegrityAlert{
		TransactionsChecked:  report.TransactionsChecked,
		FailedTransactionIDs: report.FailedTransactionIDs,
		CheckedAt:            report.CheckedAt,
	}
	if err := s.publisher.Publish("ledger.integrity_failure", alert); err != nil {
		s.logger.Error("Failed to publish integrity alert", "error", err)
		return err
	}
	return nil
}

// RunReconciliation reconciles the whole ledger and publishes an alert if
// it does not balance.
func (s *Scheduler) RunReconciliation() error {
	result, err := s.engine.Reconcile(domain.EntryFilter{})
	if err != nil {
		return err
	}

	if result.IsBalanced {
		return nil
	}

	alert := ReconciliationAlert{
		TotalDebit:               result.TotalDebit.String(),
		TotalCredit:              result.TotalCredit.String(),
		Discrepancy:              result.Discrepancy.String(),
		EntriesChecked:           result.EntriesChecked,
		DiscrepantTransactionIDs: result.DiscrepantTransactionIDs,
		CheckedAt:                result.CheckedAt,
	}
	if err := s.publisher.Publish("ledger.reconciliation_discrepancy", alert); err != nil {
		s.logger.Error("Failed to publish reconciliation alert", "error", err)
		return err
	}
	return nil
}
