package processor

import (
	"context"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// FreezeAccount suspends processing on the account. Frozen accounts keep
// their balance but reject all transactions until unfrozen.
func (s *Service) FreezeAccount(ctx context.Context, id int64) (domain.Account, error) {
	return s.setStatus(ctx, id, domain.StatusFrozen)
}

// UnfreezeAccount returns a frozen account to active.
func (s *Service) UnfreezeAccount(ctx context.Context, id int64) (domain.Account, error) {
	return s.setStatus(ctx, id, domain.StatusActive)
}

// CloseAccount terminally closes the account. The balance must be zero:
// stranding funds in a terminal account would break reconciliation.
func (s *Service) CloseAccount(ctx context.Context, id int64) (domain.Account, error) {
	return s.setStatus(ctx, id, domain.StatusClosed)
}

func (s *Service) setStatus(ctx context.Context, id int64, status domain.AccountStatus) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	release, err := s.locks.Acquire(ctx, []int64{id})
	if err != nil {
		l.Info().Err(err).Send()
		return domain.Account{}, err
	}
	defer release()

	acc, err := s.accountState(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	if err := validTransition(acc, status); err != nil {
		l.Info().Err(err).Int64("account_id", id).Send()
		return domain.Account{}, err
	}

	if err := s.store.SetAccountStatus(ctx, id, status); err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, storeErr(err)
	}

	updated, _ := s.cache.SetStatus(id, status)

	return updated, nil
}

func validTransition(acc domain.Account, to domain.AccountStatus) error {
	if acc.Status == domain.StatusClosed {
		return domain.ErrAccountClosed
	}

	switch to {
	case domain.StatusActive:
		if acc.Status != domain.StatusFrozen {
			return domain.ErrAccountNotFrozen
		}
	case domain.StatusClosed:
		if acc.Balance != 0 {
			return domain.ErrBalanceNotZero
		}
	}

	return nil
}
