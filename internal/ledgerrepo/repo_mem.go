// Package ledgerrepo manages repository layer of the ledger: account
// records, per-account append-only entry streams and closed transaction
// records for idempotency lookups.
package ledgerrepo

import (
	"context"
	"sync"
	"time"

	"github.com/go-petr/bank-ledger/internal/domain"
)

// RepoMem is an in-memory ledger store. A single mutex guards all state, so
// every Append is atomic: either all entries of a transaction become
// visible or none do.
type RepoMem struct {
	mu            sync.Mutex
	accounts      map[int64]domain.Account
	entries       map[int64][]domain.Entry
	transactions  map[string]domain.Transaction
	nextAccountID int64
}

// NewRepoMem returns an empty in-memory ledger store.
func NewRepoMem() *RepoMem {
	return &RepoMem{
		accounts:      make(map[int64]domain.Account),
		entries:       make(map[int64][]domain.Entry),
		transactions:  make(map[string]domain.Transaction),
		nextAccountID: 1,
	}
}

// CreateAccount assigns an id to the account record and stores it.
func (r *RepoMem) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account.ID = r.nextAccountID
	r.nextAccountID++

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	r.accounts[account.ID] = account

	return account, nil
}

// GetAccount returns the account record. Balance, version and last sequence
// are not materialized here; they are derived by replaying the entry stream.
func (r *RepoMem) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return a, nil
}

// SetAccountStatus updates the persisted lifecycle status of the account.
func (r *RepoMem) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	a.Status = status
	r.accounts[id] = a

	return nil
}

// Append durably records the committed transaction and all its entries as
// one atomic batch. Every entry must extend its account's stream
// contiguously, otherwise nothing is written and
// domain.ErrSequenceConflict is returned.
func (r *RepoMem) Append(ctx context.Context, tx domain.Transaction, entries []domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[int64]int64, len(entries))

	for _, e := range entries {
		if _, ok := r.accounts[e.AccountID]; !ok {
			return domain.ErrAccountNotFound
		}

		want, ok := next[e.AccountID]
		if !ok {
			want = int64(len(r.entries[e.AccountID])) + 1
		}

		if e.Sequence != want {
			return domain.ErrSequenceConflict
		}

		next[e.AccountID] = want + 1
	}

	for _, e := range entries {
		r.entries[e.AccountID] = append(r.entries[e.AccountID], e)
	}

	r.transactions[tx.IdempotencyKey] = tx

	return nil
}

// ReadEntries returns the account's entries with sequence >= fromSequence.
func (r *RepoMem) ReadEntries(ctx context.Context, accountID, fromSequence int64) ([]domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}

	stream := r.entries[accountID]

	if fromSequence < 1 {
		fromSequence = 1
	}

	if fromSequence > int64(len(stream)) {
		return []domain.Entry{}, nil
	}

	// Sequences are gapless from 1, so the offset is the sequence itself.
	out := make([]domain.Entry, len(stream[fromSequence-1:]))
	copy(out, stream[fromSequence-1:])

	return out, nil
}

// SaveTransaction stores a closed transaction record that has no entries,
// such as a business-rule rejection.
func (r *RepoMem) SaveTransaction(ctx context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transactions[tx.IdempotencyKey] = tx

	return nil
}

// GetTransactionByKey returns the closed transaction record for the
// idempotency key, if any.
func (r *RepoMem) GetTransactionByKey(ctx context.Context, key string) (domain.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[key]

	return tx, ok, nil
}
