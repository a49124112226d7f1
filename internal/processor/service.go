// Package processor manages business logic layer of the ledger engine.
//
// It validates requested money movements, serializes them per account,
// appends ledger entries, maintains the account state cache and records
// outcomes for idempotent retries.
package processor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-petr/bank-ledger/internal/accountcache"
	"github.com/go-petr/bank-ledger/internal/accountlock"
	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/go-petr/bank-ledger/internal/events"
	"github.com/go-petr/bank-ledger/internal/idempotency"
	"github.com/go-petr/bank-ledger/pkg/currencypkg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store provides the durable ledger collaborator interface needed by the
// processor: account records, strictly-ordered entry streams with
// read-your-writes consistency per account, and closed transaction records.
//
//go:generate mockgen -source service.go -destination service_mock.go -package processor
type Store interface {
	CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error)
	GetAccount(ctx context.Context, id int64) (domain.Account, error)
	SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error
	// Append durably records a committed transaction together with all its
	// entries as one atomic batch.
	Append(ctx context.Context, tx domain.Transaction, entries []domain.Entry) error
	ReadEntries(ctx context.Context, accountID, fromSequence int64) ([]domain.Entry, error)
	// SaveTransaction records a closed transaction that produced no entries.
	SaveTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransactionByKey(ctx context.Context, key string) (domain.Transaction, bool, error)
}

// Service facilitates transaction processing logic.
type Service struct {
	store     Store
	locks     *accountlock.Controller
	cache     *accountcache.Cache
	tracker   *idempotency.Tracker
	publisher events.Publisher
}

// New returns a transaction processor service.
func New(store Store, locks *accountlock.Controller, cache *accountcache.Cache, tracker *idempotency.Tracker, publisher events.Publisher) *Service {
	return &Service{
		store:     store,
		locks:     locks,
		cache:     cache,
		tracker:   tracker,
		publisher: publisher,
	}
}

// OpenAccount creates an active account with zero balance.
func (s *Service) OpenAccount(ctx context.Context, currency string, overdraftLimit int64) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	if !currencypkg.IsSupportedCurrency(currency) {
		return domain.Account{}, domain.ErrUnsupportedCurrency
	}

	if overdraftLimit < 0 {
		return domain.Account{}, domain.ErrInvalidOverdraftLimit
	}

	account, err := s.store.CreateAccount(ctx, domain.Account{
		Currency:       currency,
		OverdraftLimit: overdraftLimit,
		Status:         domain.StatusActive,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, storeErr(err)
	}

	s.cache.Put(account)

	return account, nil
}

// GetAccount returns the account's current materialized state.
func (s *Service) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	return s.accountState(ctx, id)
}

// ListEntries returns the account's audit trail from the given sequence.
func (s *Service) ListEntries(ctx context.Context, id, fromSequence int64) ([]domain.Entry, error) {
	entries, err := s.store.ReadEntries(ctx, id, fromSequence)
	if err != nil {
		return nil, storeErr(err)
	}

	return entries, nil
}

// Submit processes a requested money movement to a terminal outcome.
//
// A request whose idempotency key already reached a terminal outcome
// returns that outcome unchanged, without re-executing side effects. A
// rejected transaction is itself a terminal outcome: the result carries
// the rejected record and err identifies the rejection reason. Validation
// errors and infrastructure failures are not terminal; retrying with the
// same key re-attempts the full operation.
func (s *Service) Submit(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	if req.IdempotencyKey == "" {
		return domain.TransactionResult{}, domain.ErrIdempotencyKeyRequired
	}

	res, found, err := s.tracker.Acquire(ctx, req.IdempotencyKey)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	if found {
		return res, resultErr(res)
	}

	// This goroutine is now the leader for the key and must finish with
	// exactly one Complete or Abort.
	res, err = s.process(ctx, req)
	if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
		s.tracker.Abort(req.IdempotencyKey)
		return domain.TransactionResult{}, err
	}

	s.tracker.Complete(req.IdempotencyKey, res)

	return res, err
}

func (s *Service) process(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	l := zerolog.Ctx(ctx)

	// A prior terminal outcome may be persisted but no longer tracked,
	// for example after a restart or past the retention window.
	if tx, ok, err := s.store.GetTransactionByKey(ctx, req.IdempotencyKey); err != nil {
		l.Error().Err(err).Send()
		return domain.TransactionResult{}, storeErr(err)
	} else if ok {
		return s.reconstructResult(ctx, tx)
	}

	if err := validateShape(req); err != nil {
		l.Info().Err(err).Send()
		return domain.TransactionResult{}, err
	}

	ids := make([]int64, 0, len(req.Legs))
	for _, leg := range req.Legs {
		ids = append(ids, leg.AccountID)
	}

	release, err := s.locks.Acquire(ctx, ids)
	if err != nil {
		l.Info().Err(err).Send()
		return domain.TransactionResult{}, err
	}
	defer release()

	accounts, err := s.lockedStates(ctx, req.Legs)
	if err != nil {
		l.Info().Err(err).Send()
		return domain.TransactionResult{}, err
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Kind:           req.Kind,
		Status:         domain.StatusPending,
		Legs:           req.Legs,
		CreatedAt:      now,
	}

	for _, leg := range req.Legs {
		acc := accounts[leg.AccountID]
		if acc.Balance+leg.Amount < -acc.OverdraftLimit {
			return s.reject(ctx, tx, domain.RejectReasonInsufficientFunds)
		}
	}

	entries := buildEntries(tx, accounts, now)

	// The record is persisted atomically with its entries, so a successful
	// append is the commit: the stored record must already say so.
	tx.Status = domain.StatusCommitted
	tx.CompletedAt = now

	if err := s.store.Append(ctx, tx, entries); err != nil {
		l.Error().Err(err).Send()

		if errors.Is(err, domain.ErrSequenceConflict) {
			// The cache diverged from the ledger. Drop the stale states so
			// the next attempt rebuilds them by replay.
			for id := range accounts {
				s.cache.Drop(id)
			}
		}

		return domain.TransactionResult{}, storeErr(err)
	}

	// Entries are durable: from here the transaction is unconditionally
	// committed and no error may be surfaced.
	result := domain.TransactionResult{
		Transaction: tx,
		Entries:     entries,
		Accounts:    make([]domain.Account, 0, len(entries)),
	}

	for _, e := range entries {
		updated, _ := s.cache.Apply(e.AccountID, e.Signed(), e.Sequence)
		result.Accounts = append(result.Accounts, updated)
	}

	if err := s.publisher.PublishCommitted(ctx, result); err != nil {
		l.Error().Err(err).Str("transaction_id", tx.ID).Msg("publish failed")
	}

	return result, nil
}

// reject records a business-rule rejection as a terminal outcome so
// idempotent retries see the same rejection instead of re-validating
// against possibly-changed balances.
func (s *Service) reject(ctx context.Context, tx domain.Transaction, reason string) (domain.TransactionResult, error) {
	l := zerolog.Ctx(ctx)

	tx.Status = domain.StatusRejected
	tx.RejectReason = reason
	tx.CompletedAt = time.Now().UTC()

	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		l.Error().Err(err).Send()
		return domain.TransactionResult{}, storeErr(err)
	}

	res := domain.TransactionResult{Transaction: tx}

	return res, resultErr(res)
}

// lockedStates re-reads the involved accounts while holding their ordering
// tokens and validates status and currency.
func (s *Service) lockedStates(ctx context.Context, legs []domain.Leg) (map[int64]domain.Account, error) {
	accounts := make(map[int64]domain.Account, len(legs))

	currency := ""

	for _, leg := range legs {
		acc, err := s.accountState(ctx, leg.AccountID)
		if err != nil {
			return nil, err
		}

		if acc.Status != domain.StatusActive {
			return nil, domain.ErrAccountNotActive
		}

		if currency == "" {
			currency = acc.Currency
		} else if acc.Currency != currency {
			return nil, domain.ErrCurrencyMismatch
		}

		accounts[leg.AccountID] = acc
	}

	return accounts, nil
}

// accountState returns the cached state of the account, rebuilding it from
// the ledger on a miss.
func (s *Service) accountState(ctx context.Context, id int64) (domain.Account, error) {
	if acc, ok := s.cache.Get(id); ok {
		return acc, nil
	}

	record, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, storeErr(err)
	}

	acc, err := s.cache.Rebuild(ctx, s.store, record)
	if err != nil {
		return domain.Account{}, storeErr(err)
	}

	return acc, nil
}

// buildEntries constructs one ledger entry per leg, ordered by account id
// so the batch order matches the token acquisition order.
func buildEntries(tx domain.Transaction, accounts map[int64]domain.Account, now time.Time) []domain.Entry {
	legs := make([]domain.Leg, len(tx.Legs))
	copy(legs, tx.Legs)
	sort.Slice(legs, func(i, j int) bool { return legs[i].AccountID < legs[j].AccountID })

	entries := make([]domain.Entry, 0, len(legs))

	for _, leg := range legs {
		acc := accounts[leg.AccountID]

		direction := domain.Credit
		amount := leg.Amount

		if leg.Amount < 0 {
			direction = domain.Debit
			amount = -leg.Amount
		}

		entries = append(entries, domain.Entry{
			AccountID:     leg.AccountID,
			Sequence:      acc.LastSequence + 1,
			TransactionID: tx.ID,
			Direction:     direction,
			Amount:        amount,
			BalanceAfter:  acc.Balance + leg.Amount,
			CreatedAt:     now,
		})
	}

	return entries
}

// reconstructResult rebuilds the terminal result of a persisted transaction
// record. Committed entries are immutable, so the involved account states
// as of the commit are recovered from their balance-after values.
func (s *Service) reconstructResult(ctx context.Context, tx domain.Transaction) (domain.TransactionResult, error) {
	res := domain.TransactionResult{Transaction: tx}

	if tx.Status != domain.StatusCommitted {
		return res, resultErr(res)
	}

	seen := make(map[int64]bool, len(tx.Legs))

	for _, leg := range tx.Legs {
		if seen[leg.AccountID] {
			continue
		}

		seen[leg.AccountID] = true

		stream, err := s.store.ReadEntries(ctx, leg.AccountID, 1)
		if err != nil {
			return domain.TransactionResult{}, storeErr(err)
		}

		record, err := s.store.GetAccount(ctx, leg.AccountID)
		if err != nil {
			return domain.TransactionResult{}, storeErr(err)
		}

		for _, e := range stream {
			if e.TransactionID != tx.ID {
				continue
			}

			record.Balance = e.BalanceAfter
			record.Version = e.Sequence
			record.LastSequence = e.Sequence

			res.Entries = append(res.Entries, e)
			res.Accounts = append(res.Accounts, record)
		}
	}

	sortByAccount(res.Entries, res.Accounts)

	return res, nil
}

func sortByAccount(entries []domain.Entry, accounts []domain.Account) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].AccountID < entries[j].AccountID })
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
}

// validateShape checks the request against the transaction kind rules
// before any account state is read.
func validateShape(req domain.TransactionRequest) error {
	if len(req.Legs) == 0 {
		return domain.ErrNoLegs
	}

	seen := make(map[int64]bool, len(req.Legs))

	var sum int64

	for _, leg := range req.Legs {
		if leg.Amount == 0 {
			return domain.ErrInvalidAmount
		}

		if seen[leg.AccountID] {
			return domain.ErrInvalidAmount
		}

		seen[leg.AccountID] = true
		sum += leg.Amount
	}

	switch req.Kind {
	case domain.KindDeposit:
		if len(req.Legs) != 1 || req.Legs[0].Amount < 0 {
			return domain.ErrInvalidKind
		}
	case domain.KindWithdrawal:
		if len(req.Legs) != 1 || req.Legs[0].Amount > 0 {
			return domain.ErrInvalidKind
		}
	case domain.KindTransfer:
		if len(req.Legs) < 2 {
			return domain.ErrInvalidKind
		}

		if sum != 0 {
			return domain.ErrUnbalancedTransaction
		}
	default:
		return domain.ErrInvalidKind
	}

	return nil
}

// resultErr maps a terminal result to the error Submit reports for it, so
// first submissions and idempotent replays stay indistinguishable.
func resultErr(res domain.TransactionResult) error {
	if res.Transaction.Status == domain.StatusRejected {
		return domain.ErrInsufficientFunds
	}

	return nil
}

// storeErr passes domain sentinels through and maps any other store
// failure to ErrStoreUnavailable.
func storeErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return err
	default:
		return domain.ErrStoreUnavailable
	}
}
