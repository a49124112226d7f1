// Package domain provides defenitions of all entities.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates that the account is not found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountNotActive indicates that the account is frozen or closed.
	ErrAccountNotActive = errors.New("account not active")
	// ErrAccountNotFrozen indicates that unfreeze was requested for an account that is not frozen.
	ErrAccountNotFrozen = errors.New("account not frozen")
	// ErrAccountClosed indicates that the account is closed; closed is terminal.
	ErrAccountClosed = errors.New("account closed")
	// ErrBalanceNotZero indicates that an account with remaining funds cannot be closed.
	ErrBalanceNotZero = errors.New("account balance not zero")
	// ErrUnsupportedCurrency indicates an unknown currency code.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidOverdraftLimit indicates a negative overdraft limit.
	ErrInvalidOverdraftLimit = errors.New("invalid overdraft limit")
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account lifecycle states.
const (
	StatusActive AccountStatus = "active"
	StatusFrozen AccountStatus = "frozen"
	StatusClosed AccountStatus = "closed"
)

// Account holds the materialized state of a single account.
//
// Balance and OverdraftLimit are integer minor units of Currency.
// Version increments exactly once per committed transaction touching the
// account. LastSequence is the sequence of the account's latest ledger
// entry; Balance, Version and LastSequence are all derivable by replaying
// the entry stream.
type Account struct {
	ID             int64         `json:"id"`
	Currency       string        `json:"currency"`
	Balance        int64         `json:"balance"`
	OverdraftLimit int64         `json:"overdraft_limit"`
	Version        int64         `json:"version"`
	LastSequence   int64         `json:"-"`
	Status         AccountStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}
