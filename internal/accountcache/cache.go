// Package accountcache materializes current account state from the ledger
// so reads do not replay the full entry stream.
//
// The cache is a disposable projection: any entry can be rebuilt from the
// ledger store. Mutations for an account must only happen while holding
// that account's ordering token, and only after the corresponding entries
// are durably appended.
package accountcache

import (
	"context"
	"sync"

	"github.com/go-petr/bank-ledger/internal/domain"
)

// EntryReader reads an account's entry stream from the ledger store.
type EntryReader interface {
	ReadEntries(ctx context.Context, accountID, fromSequence int64) ([]domain.Entry, error)
}

// Cache holds materialized account states guarded by a single RWMutex.
type Cache struct {
	mu       sync.RWMutex
	accounts map[int64]domain.Account
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{accounts: make(map[int64]domain.Account)}
}

// Get returns the cached state of the account.
func (c *Cache) Get(id int64) (domain.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.accounts[id]

	return a, ok
}

// Put stores the account state, replacing any previous entry.
func (c *Cache) Put(account domain.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts[account.ID] = account
}

// Apply adds delta to the account's balance, advances its last sequence and
// bumps its version by one. Returns the updated state.
func (c *Cache) Apply(id, delta, lastSequence int64) (domain.Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.accounts[id]
	if !ok {
		return domain.Account{}, false
	}

	a.Balance += delta
	a.Version++
	a.LastSequence = lastSequence
	c.accounts[id] = a

	return a, true
}

// SetStatus updates the account's lifecycle status. Returns the updated state.
func (c *Cache) SetStatus(id int64, status domain.AccountStatus) (domain.Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.accounts[id]
	if !ok {
		return domain.Account{}, false
	}

	a.Status = status
	c.accounts[id] = a

	return a, true
}

// Drop removes the account's cached state so the next read rebuilds it.
func (c *Cache) Drop(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.accounts, id)
}

// Rebuild replays the account's full entry stream onto the given account
// record, stores the result and returns it. The record supplies the static
// attributes (currency, overdraft limit, status); balance, version and last
// sequence come from the ledger.
func (c *Cache) Rebuild(ctx context.Context, reader EntryReader, record domain.Account) (domain.Account, error) {
	entries, err := reader.ReadEntries(ctx, record.ID, 1)
	if err != nil {
		return domain.Account{}, err
	}

	record.Balance = 0
	record.Version = 0
	record.LastSequence = 0

	for _, e := range entries {
		record.Balance += e.Signed()
		record.Version++
		record.LastSequence = e.Sequence
	}

	c.Put(record)

	return record, nil
}
