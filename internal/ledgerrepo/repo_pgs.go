package ledgerrepo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/go-petr/bank-ledger/pkg/dbpkg"
	"github.com/go-petr/bank-ledger/pkg/errorspkg"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RepoPGS is the PostgreSQL ledger store. See schema.sql for the layout.
type RepoPGS struct {
	conn *sql.DB
}

// NewRepoPGS returns the ledger RepoPGS.
func NewRepoPGS(conn *sql.DB) *RepoPGS {
	return &RepoPGS{conn: conn}
}

const createAccountQuery = `
INSERT INTO
    accounts (currency, overdraft_limit, status)
VALUES
    ($1, $2, $3)
RETURNING id, currency, overdraft_limit, status, created_at
`

// CreateAccount inserts the account record and returns it with its id.
func (r *RepoPGS) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	row := r.conn.QueryRowContext(ctx, createAccountQuery,
		account.Currency, account.OverdraftLimit, account.Status)

	var a domain.Account

	err := row.Scan(
		&a.ID,
		&a.Currency,
		&a.OverdraftLimit,
		&a.Status,
		&a.CreatedAt,
	)

	if err != nil {
		l.Error().Err(err).Send()
		return a, errorspkg.ErrInternal
	}

	return a, nil
}

const getAccountQuery = `
SELECT
	id, currency, overdraft_limit, status, created_at
FROM accounts
WHERE id = $1
`

// GetAccount returns the account record. Balance, version and last sequence
// are derived from the entry stream, not stored on the record.
func (r *RepoPGS) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	row := r.conn.QueryRowContext(ctx, getAccountQuery, id)

	var a domain.Account

	err := row.Scan(
		&a.ID,
		&a.Currency,
		&a.OverdraftLimit,
		&a.Status,
		&a.CreatedAt,
	)

	if err != nil {
		l.Error().Err(err).Send()

		if err == sql.ErrNoRows {
			return a, domain.ErrAccountNotFound
		}

		return a, errorspkg.ErrInternal
	}

	return a, nil
}

const setAccountStatusQuery = `
UPDATE accounts
SET status = $1
WHERE id = $2
`

// SetAccountStatus updates the persisted lifecycle status of the account.
func (r *RepoPGS) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	l := zerolog.Ctx(ctx)

	res, err := r.conn.ExecContext(ctx, setAccountStatusQuery, status, id)
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	affected, err := res.RowsAffected()
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	if affected == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

const appendEntryQuery = `
INSERT INTO
    entries (account_id, sequence, transaction_id, direction, amount, balance_after, created_at)
VALUES
    ($1, $2, $3, $4, $5, $6, $7)
`

// Append durably records the committed transaction and all its entries
// within a single database transaction. The (account_id, sequence) primary
// key rejects batches that do not extend an account's stream contiguously.
func (r *RepoPGS) Append(ctx context.Context, tx domain.Transaction, entries []domain.Entry) error {
	l := zerolog.Ctx(ctx)

	dbTx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	defer func() {
		if err := dbTx.Rollback(); err != nil && err != sql.ErrTxDone {
			l.Error().Err(err).Send()
		}
	}()

	for _, e := range entries {
		_, err := dbTx.ExecContext(ctx, appendEntryQuery,
			e.AccountID, e.Sequence, e.TransactionID, e.Direction, e.Amount, e.BalanceAfter, e.CreatedAt)

		if err != nil {
			l.Error().Err(err).Send()

			if pqErr, ok := err.(*pq.Error); ok {
				switch pqErr.Constraint {
				case "entries_pkey":
					return domain.ErrSequenceConflict
				case "entries_account_id_fkey":
					return domain.ErrAccountNotFound
				}
			}

			return errorspkg.ErrInternal
		}
	}

	if err := saveTransaction(ctx, dbTx, tx); err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	if err := dbTx.Commit(); err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	return nil
}

const readEntriesQuery = `
SELECT
	account_id, sequence, transaction_id, direction, amount, balance_after, created_at
FROM entries
WHERE account_id = $1 AND sequence >= $2
ORDER BY sequence
`

// ReadEntries returns the account's entries with sequence >= fromSequence.
func (r *RepoPGS) ReadEntries(ctx context.Context, accountID, fromSequence int64) ([]domain.Entry, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.conn.QueryContext(ctx, readEntriesQuery, accountID, fromSequence)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}
	defer rows.Close()

	items := []domain.Entry{}

	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(
			&e.AccountID,
			&e.Sequence,
			&e.TransactionID,
			&e.Direction,
			&e.Amount,
			&e.BalanceAfter,
			&e.CreatedAt,
		); err != nil {
			l.Error().Err(err).Send()
			return nil, errorspkg.ErrInternal
		}

		items = append(items, e)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return items, nil
}

const saveTransactionQuery = `
INSERT INTO
    transactions (id, idempotency_key, kind, status, reject_reason, legs, created_at, completed_at)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8)
`

func saveTransaction(ctx context.Context, db dbpkg.SQLInterface, tx domain.Transaction) error {
	legs, err := json.Marshal(tx.Legs)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, saveTransactionQuery,
		tx.ID, tx.IdempotencyKey, tx.Kind, tx.Status, tx.RejectReason, legs, tx.CreatedAt, tx.CompletedAt)

	return err
}

// SaveTransaction stores a closed transaction record that has no entries,
// such as a business-rule rejection.
func (r *RepoPGS) SaveTransaction(ctx context.Context, tx domain.Transaction) error {
	l := zerolog.Ctx(ctx)

	if err := saveTransaction(ctx, r.conn, tx); err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	return nil
}

const getTransactionQuery = `
SELECT
	id, idempotency_key, kind, status, reject_reason, legs, created_at, completed_at
FROM transactions
WHERE idempotency_key = $1
`

// GetTransactionByKey returns the closed transaction record for the
// idempotency key, if any.
func (r *RepoPGS) GetTransactionByKey(ctx context.Context, key string) (domain.Transaction, bool, error) {
	l := zerolog.Ctx(ctx)

	row := r.conn.QueryRowContext(ctx, getTransactionQuery, key)

	var (
		tx   domain.Transaction
		legs []byte
	)

	err := row.Scan(
		&tx.ID,
		&tx.IdempotencyKey,
		&tx.Kind,
		&tx.Status,
		&tx.RejectReason,
		&legs,
		&tx.CreatedAt,
		&tx.CompletedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return tx, false, nil
		}

		l.Error().Err(err).Send()

		return tx, false, errorspkg.ErrInternal
	}

	if err := json.Unmarshal(legs, &tx.Legs); err != nil {
		l.Error().Err(err).Send()
		return tx, false, errorspkg.ErrInternal
	}

	return tx, true, nil
}
