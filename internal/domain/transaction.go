package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired indicates that the request carries no idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	// ErrNoLegs indicates that the request carries no legs.
	ErrNoLegs = errors.New("transaction has no legs")
	// ErrInvalidKind indicates an unknown transaction kind or a leg shape
	// that does not match the kind.
	ErrInvalidKind = errors.New("invalid transaction kind")
	// ErrInvalidAmount indicates a zero leg amount, a wrongly signed leg
	// amount, or two legs on the same account.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnbalancedTransaction indicates that transfer legs do not sum to zero.
	ErrUnbalancedTransaction = errors.New("unbalanced transaction")
	// ErrCurrencyMismatch indicates that the involved accounts have different currencies.
	ErrCurrencyMismatch = errors.New("accounts currency mismatch")
	// ErrInsufficientFunds indicates that a debited account would drop below
	// its overdraft limit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLockTimeout indicates that an account ordering token could not be
	// acquired in time. Safe to retry.
	ErrLockTimeout = errors.New("account lock timeout")
	// ErrStoreUnavailable indicates a ledger store failure. The transaction
	// reached no terminal state and is safe to retry with the same key.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// TransactionKind classifies a money movement.
type TransactionKind string

// Transaction kinds.
const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
)

// TransactionStatus is the processing state of a transaction.
type TransactionStatus string

// Transaction statuses. Committed and rejected are terminal.
const (
	StatusPending   TransactionStatus = "pending"
	StatusCommitted TransactionStatus = "committed"
	StatusRejected  TransactionStatus = "rejected"
)

// RejectReasonInsufficientFunds is recorded on transactions rejected by the
// overdraft check.
const RejectReasonInsufficientFunds = "insufficient-funds"

// Leg is one signed balance movement of a transaction. Amount is in minor
// units: negative debits the account, positive credits it.
type Leg struct {
	AccountID int64 `json:"account_id"`
	Amount    int64 `json:"amount"`
}

// TransactionRequest is the input data for submitting a transaction.
type TransactionRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           TransactionKind `json:"kind"`
	Legs           []Leg           `json:"legs"`
}

// Transaction records one accepted money movement. It is immutable after
// reaching a terminal status.
type Transaction struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Kind           TransactionKind   `json:"kind"`
	Status         TransactionStatus `json:"status"`
	RejectReason   string            `json:"reject_reason,omitempty"`
	Legs           []Leg             `json:"legs"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// TransactionResult is the terminal outcome of a submitted transaction.
//
// For committed transactions Entries holds one entry per leg and Accounts
// the involved accounts as of the commit. Both are empty for rejections.
type TransactionResult struct {
	Transaction Transaction `json:"transaction"`
	Entries     []Entry     `json:"entries,omitempty"`
	Accounts    []Account   `json:"accounts,omitempty"`
}
