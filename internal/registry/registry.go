// Package registry provisions and reads ledger accounts. The ledger engine
// never creates accounts; this is the surrounding service's door for that.
package registry

import (
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Registry struct {
	store  domain.Store
	logger *slog.Logger
}

func NewRegistry(store domain.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

type CreateAccountRequest struct {
	UserID   uuid.UUID
	Type     string
	Currency string
	Name     string
	IsSystem bool
}

// CreateAccount provisions an account with a zero balance. Balances only
// ever change through posted entries, so there is no opening-balance path;
// seeding funds means posting a transaction against a system account.
func (r *Registry) CreateAccount(req CreateAccountRequest) (*domain.Account, error) {
	if !currencyPattern.MatchString(req.Currency) {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "invalid currency code %q", req.Currency)
	}
	if req.Type == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "account type is required")
	}

	account := &domain.Account{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Type:     req.Type,
		Currency: req.Currency,
		Name:     req.Name,
		Balance:  decimal.Zero,
		IsSystem: req.IsSystem,
	}

	if err := r.store.Accounts().CreateAccount(account); err != nil {
		return nil, err
	}

	r.logger.Info("Account provisioned",
		"account_id", account.ID,
		"currency", account.Currency,
		"account_type", account.Type,
		"is_system", account.IsSystem)
	return account, nil
}

func (r *Registry) GetAccount(id uuid.UUID) (*domain.Account, error) {
	return r.store.Accounts().GetAccount(id)
}
