package domain

import (
	"errors"
	"time"
)

// ErrSequenceConflict indicates that an appended batch does not extend the
// account's entry stream contiguously. It signals cache divergence.
var ErrSequenceConflict = errors.New("entry sequence conflict")

// Direction tells whether an entry removes or adds funds.
type Direction string

// Entry directions.
const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Entry is one immutable record of a single-account balance movement.
//
// Sequence starts at 1 and is gapless per account; together with AccountID
// it identifies the entry. Amount is always positive, in minor units.
type Entry struct {
	AccountID     int64     `json:"account_id"`
	Sequence      int64     `json:"sequence"`
	TransactionID string    `json:"transaction_id"`
	Direction     Direction `json:"direction"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Signed returns the entry amount with its direction applied.
func (e Entry) Signed() int64 {
	if e.Direction == Debit {
		return -e.Amount
	}

	return e.Amount
}
