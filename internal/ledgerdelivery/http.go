// Package ledgerdelivery manages delivery layer of the ledger engine.
//
// It translates validated HTTP requests into engine calls and serializes
// results back to callers. Amounts cross this boundary as decimal strings
// and are converted to the integer minor units the engine works in.
package ledgerdelivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/go-petr/bank-ledger/pkg/errorspkg"
	"github.com/go-petr/bank-ledger/pkg/moneypkg"
	"github.com/go-petr/bank-ledger/pkg/web"
)

// Service provides the engine interface needed by the delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package ledgerdelivery
type Service interface {
	OpenAccount(ctx context.Context, currency string, overdraftLimit int64) (domain.Account, error)
	GetAccount(ctx context.Context, id int64) (domain.Account, error)
	ListEntries(ctx context.Context, id, fromSequence int64) ([]domain.Entry, error)
	Submit(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error)
	FreezeAccount(ctx context.Context, id int64) (domain.Account, error)
	UnfreezeAccount(ctx context.Context, id int64) (domain.Account, error)
	CloseAccount(ctx context.Context, id int64) (domain.Account, error)
}

// Handler facilitates ledger delivery layer logic.
type Handler struct {
	service Service
}

// NewHandler returns ledger handler.
func NewHandler(s Service) Handler {
	return Handler{service: s}
}

// AccountResponse is the external view of an account.
type AccountResponse struct {
	ID             int64  `json:"id"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	OverdraftLimit string `json:"overdraft_limit"`
	Version        int64  `json:"version"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// NewAccountResponse converts an account to its external view.
func NewAccountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		Currency:       a.Currency,
		Balance:        moneypkg.FromMinorUnits(a.Balance, a.Currency),
		OverdraftLimit: moneypkg.FromMinorUnits(a.OverdraftLimit, a.Currency),
		Version:        a.Version,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt.Format(http.TimeFormat),
	}
}

type createAccountRequest struct {
	Currency       string `json:"currency" binding:"required,currency"`
	OverdraftLimit string `json:"overdraft_limit"`
}

// CreateAccount handles http request to open an account.
func (h *Handler) CreateAccount(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req createAccountRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	var overdraftLimit int64

	if req.OverdraftLimit != "" {
		var err error

		overdraftLimit, err = moneypkg.ToMinorUnits(req.OverdraftLimit, req.Currency)
		if err != nil {
			l.Info().Err(err).Send()
			gctx.JSON(http.StatusBadRequest, web.Error(err))

			return
		}
	}

	account, err := h.service.OpenAccount(ctx, req.Currency, overdraftLimit)
	if err != nil {
		respondErr(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: NewAccountResponse(account)})
}

type accountURI struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}

// GetAccount handles http request to get an account.
func (h *Handler) GetAccount(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req accountURI
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	account, err := h.service.GetAccount(ctx, req.ID)
	if err != nil {
		respondErr(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: NewAccountResponse(account)})
}

// EntryResponse is the external view of a ledger entry.
type EntryResponse struct {
	AccountID     int64  `json:"account_id"`
	Sequence      int64  `json:"sequence"`
	TransactionID string `json:"transaction_id"`
	Direction     string `json:"direction"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
}

func newEntryResponses(entries []domain.Entry, currency string) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))

	for _, e := range entries {
		out = append(out, EntryResponse{
			AccountID:     e.AccountID,
			Sequence:      e.Sequence,
			TransactionID: e.TransactionID,
			Direction:     string(e.Direction),
			Amount:        moneypkg.FromMinorUnits(e.Amount, currency),
			BalanceAfter:  moneypkg.FromMinorUnits(e.BalanceAfter, currency),
		})
	}

	return out
}

type listEntriesQuery struct {
	From int64 `form:"from,default=1" binding:"min=1"`
}

// ListEntries handles http request to read an account's audit trail.
func (h *Handler) ListEntries(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri accountURI
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	var query listEntriesQuery
	if err := gctx.ShouldBindQuery(&query); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	account, err := h.service.GetAccount(ctx, uri.ID)
	if err != nil {
		respondErr(gctx, err)
		return
	}

	entries, err := h.service.ListEntries(ctx, uri.ID, query.From)
	if err != nil {
		respondErr(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: newEntryResponses(entries, account.Currency)})
}

type legRequest struct {
	AccountID int64  `json:"account_id" binding:"required,min=1"`
	Amount    string `json:"amount" binding:"required"`
}

type submitRequest struct {
	Kind string       `json:"kind" binding:"required,oneof=deposit withdrawal transfer"`
	Legs []legRequest `json:"legs" binding:"required,min=1,dive"`
}

// TransactionResponse is the external view of a terminal transaction outcome.
type TransactionResponse struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Status       string            `json:"status"`
	RejectReason string            `json:"reject_reason,omitempty"`
	Entries      []EntryResponse   `json:"entries,omitempty"`
	Accounts     []AccountResponse `json:"accounts,omitempty"`
}

// NewTransactionResponse converts a result to its external view.
func NewTransactionResponse(res domain.TransactionResult) TransactionResponse {
	out := TransactionResponse{
		ID:           res.Transaction.ID,
		Kind:         string(res.Transaction.Kind),
		Status:       string(res.Transaction.Status),
		RejectReason: res.Transaction.RejectReason,
	}

	currencies := make(map[int64]string, len(res.Accounts))

	for _, a := range res.Accounts {
		currencies[a.ID] = a.Currency
		out.Accounts = append(out.Accounts, NewAccountResponse(a))
	}

	for _, e := range res.Entries {
		out.Entries = append(out.Entries, newEntryResponses([]domain.Entry{e}, currencies[e.AccountID])...)
	}

	return out
}

// Submit handles http request to process a transaction. The client supplies
// the idempotency key in the Idempotency-Key header.
func (h *Handler) Submit(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	key := gctx.GetHeader("Idempotency-Key")
	if key == "" {
		gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrIdempotencyKeyRequired))
		return
	}

	var req submitRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	legs := make([]domain.Leg, 0, len(req.Legs))

	for _, leg := range req.Legs {
		account, err := h.service.GetAccount(ctx, leg.AccountID)
		if err != nil {
			respondErr(gctx, err)
			return
		}

		amount, err := moneypkg.ToMinorUnits(leg.Amount, account.Currency)
		if err != nil {
			l.Info().Err(err).Send()
			gctx.JSON(http.StatusBadRequest, web.Error(err))

			return
		}

		legs = append(legs, domain.Leg{AccountID: leg.AccountID, Amount: amount})
	}

	result, err := h.service.Submit(ctx, domain.TransactionRequest{
		IdempotencyKey: key,
		Kind:           domain.TransactionKind(req.Kind),
		Legs:           legs,
	})

	if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
		respondErr(gctx, err)
		return
	}

	status := http.StatusOK
	if result.Transaction.Status == domain.StatusRejected {
		status = http.StatusUnprocessableEntity
	}

	gctx.JSON(status, web.Response{Data: NewTransactionResponse(result)})
}

// FreezeAccount handles http request to freeze an account.
func (h *Handler) FreezeAccount(gctx *gin.Context) {
	h.setStatus(gctx, h.service.FreezeAccount)
}

// UnfreezeAccount handles http request to unfreeze an account.
func (h *Handler) UnfreezeAccount(gctx *gin.Context) {
	h.setStatus(gctx, h.service.UnfreezeAccount)
}

// CloseAccount handles http request to close an account.
func (h *Handler) CloseAccount(gctx *gin.Context) {
	h.setStatus(gctx, h.service.CloseAccount)
}

func (h *Handler) setStatus(gctx *gin.Context, op func(context.Context, int64) (domain.Account, error)) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req accountURI
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindingErrMsg(err)})

		return
	}

	account, err := op(ctx, req.ID)
	if err != nil {
		respondErr(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: NewAccountResponse(account)})
}

func bindingErrMsg(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		field := ve[0]
		return field.Field() + web.GetErrorMsg(field)
	}

	return err.Error()
}

func respondErr(gctx *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		gctx.JSON(http.StatusNotFound, web.Error(err))
	case errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrAccountNotFrozen),
		errors.Is(err, domain.ErrAccountClosed),
		errors.Is(err, domain.ErrBalanceNotZero),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrInvalidOverdraftLimit),
		errors.Is(err, domain.ErrIdempotencyKeyRequired),
		errors.Is(err, domain.ErrNoLegs),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnbalancedTransaction),
		errors.Is(err, domain.ErrCurrencyMismatch):
		gctx.JSON(http.StatusBadRequest, web.Error(err))
	case errors.Is(err, domain.ErrLockTimeout):
		gctx.JSON(http.StatusConflict, web.Error(err))
	case errors.Is(err, domain.ErrStoreUnavailable):
		gctx.JSON(http.StatusServiceUnavailable, web.Error(err))
	default:
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))
	}
}
