package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/repository/memory"
)

type capturedAlert struct {
	kind  string
	event any
}

type fakePublisher struct {
	alerts []capturedAlert
}

func (p *fakePublisher) Publish(kind string, event any) error {
	p.alerts = append(p.alerts, capturedAlert{kind: kind, event: event})
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *ledger.Engine, *memory.Store, *fakePublisher) {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.NewEngine(store, logger)
	publisher := &fakePublisher{}
	s := NewScheduler(engine, publisher, time.Hour, 24*time.Hour, logger)
	return s, engine, store, publisher
}

func postTransfer(t *testing.T, engine *ledger.Engine, store *memory.Store, transactionID string) []*domain.LedgerEntry {
	t.Helper()

	newAccount := func() uuid.UUID {
		account := &domain.Account{
			ID:       uuid.New(),
			UserID:   uuid.New(),
			Type:     "wallet",
			Currency: "USD",
		}
		require.NoError(t, store.Accounts().CreateAccount(account))
		return account.ID
	}

	entries, err := engine.PostDoubleEntry(transactionID, []ledger.EntrySpec{
		{AccountID: newAccount(), Currency: "USD", Debit: decimal.NewFromInt(50), EntryType: domain.EntryTypeDebit},
		{AccountID: newAccount(), Currency: "USD", Credit: decimal.NewFromInt(50), EntryType: domain.EntryTypeCredit},
	})
	require.NoError(t, err)
	return entries
}

func TestIntegritySweep_HealthyLedgerPublishesNothing(t *testing.T) {
	s, engine, store, publisher := newTestScheduler(t)
	postTransfer(t, engine, store, "tx-healthy")

	require.NoError(t, s.RunIntegritySweep())
	assert.Empty(t, publisher.alerts)
}

func TestIntegritySweep_PublishesFailures(t *testing.T) {
	s, engine, store, publisher := newTestScheduler(t)
	entries := postTransfer(t, engine, store, "tx-corrupt")

	entries[0].Debit = decimal.NewFromInt(999)

	require.NoError(t, s.RunIntegritySweep())
	require.Len(t, publisher.alerts, 1)
	assert.Equal(t, "ledger.integrity_failure", publisher.alerts[0].kind)

	alert, ok := publisher.alerts[0].event.(IntegrityAlert)
	require.True(t, ok)
	assert.Equal(t, 1, alert.TransactionsChecked)
	assert.Equal(t, []string{"tx-corrupt"}, alert.FailedTransactionIDs)
}

func TestReconciliation_BalancedLedgerPublishesNothing(t *testing.T) {
	s, engine, store, publisher := newTestScheduler(t)
	postTransfer(t, engine, store, "tx-balanced")

	require.NoError(t, s.RunReconciliation())
	assert.Empty(t, publisher.alerts)
}

func TestReconciliation_PublishesDiscrepancy(t *testing.T) {
	s, engine, store, publisher := newTestScheduler(t)
	entries := postTransfer(t, engine, store, "tx-off")

	entries[0].Debit = decimal.NewFromInt(60)

	require.NoError(t, s.RunReconciliation())
	require.Len(t, publisher.alerts, 1)
	assert.Equal(t, "ledger.reconciliation_discrepancy", publisher.alerts[0].kind)

	alert, ok := publisher.alerts[0].event.(ReconciliationAlert)
	require.True(t, ok)
	assert.Equal(t, "10", alert.Discrepancy)
	assert.Equal(t, []string{"tx-off"}, alert.DiscrepantTransactionIDs)
}

func TestScheduler_StartStop(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	s.Start(context.Background())
	s.Stop()
}
