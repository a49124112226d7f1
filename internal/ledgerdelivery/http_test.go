package ledgerdelivery

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/go-petr/bank-ledger/pkg/currencypkg"
	"github.com/go-petr/bank-ledger/pkg/randompkg"
)

func newTestRouter(t *testing.T, service Service) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	handler := NewHandler(service)

	engine := gin.New()
	engine.POST("/accounts", handler.CreateAccount)
	engine.GET("/accounts/:id", handler.GetAccount)
	engine.GET("/accounts/:id/entries", handler.ListEntries)
	engine.POST("/accounts/:id/freeze", handler.FreezeAccount)
	engine.POST("/accounts/:id/close", handler.CloseAccount)
	engine.POST("/transactions", handler.Submit)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// Repeated registration across tests is fine.
		require.NoError(t, v.RegisterValidation("currency", currencypkg.ValidCurrency))
	}

	return engine
}

func testAccount(id int64, balance int64) domain.Account {
	return domain.Account{
		ID:        id,
		Currency:  currencypkg.USD,
		Balance:   balance,
		Version:   1,
		Status:    domain.StatusActive,
		CreatedAt: time.Now().Truncate(time.Second).UTC(),
	}
}

func TestCreateAccount(t *testing.T) {
	testCases := []struct {
		name       string
		body       gin.H
		buildStubs func(service *MockService)
		wantCode   int
	}{
		{
			name: "OK",
			body: gin.H{"currency": "USD", "overdraft_limit": "100.00"},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					OpenAccount(gomock.Any(), currencypkg.USD, int64(10_000)).
					Return(testAccount(1, 0), nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name: "NoOverdraft",
			body: gin.H{"currency": "USD"},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					OpenAccount(gomock.Any(), currencypkg.USD, int64(0)).
					Return(testAccount(1, 0), nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name: "UnsupportedCurrency",
			body: gin.H{"currency": "XXX"},
			buildStubs: func(service *MockService) {
				service.EXPECT().OpenAccount(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "MissingCurrency",
			body: gin.H{},
			buildStubs: func(service *MockService) {
				service.EXPECT().OpenAccount(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "MalformedOverdraft",
			body: gin.H{"currency": "USD", "overdraft_limit": "lots"},
			buildStubs: func(service *MockService) {
				service.EXPECT().OpenAccount(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			router := newTestRouter(t, service)

			body, err := json.Marshal(tc.body)
			require.NoError(t, err)

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader(body))

			router.ServeHTTP(recorder, request)
			require.Equal(t, tc.wantCode, recorder.Code)
		})
	}
}

func TestGetAccount(t *testing.T) {
	testCases := []struct {
		name       string
		url        string
		buildStubs func(service *MockService)
		wantCode   int
	}{
		{
			name: "OK",
			url:  "/accounts/1",
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(testAccount(1, 1050), nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name: "NotFound",
			url:  "/accounts/42",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					GetAccount(gomock.Any(), int64(42)).
					Return(domain.Account{}, domain.ErrAccountNotFound)
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "InvalidID",
			url:  "/accounts/abc",
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			router := newTestRouter(t, service)

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, tc.url, nil)

			router.ServeHTTP(recorder, request)
			require.Equal(t, tc.wantCode, recorder.Code)

			if tc.wantCode == http.StatusOK {
				var res struct {
					Data AccountResponse `json:"data"`
				}
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
				require.Equal(t, "10.50", res.Data.Balance)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	account1 := testAccount(1, 100_000)
	account2 := testAccount(2, 0)

	transferBody := gin.H{
		"kind": "transfer",
		"legs": []gin.H{
			{"account_id": 1, "amount": "-5.00"},
			{"account_id": 2, "amount": "5.00"},
		},
	}

	committed := domain.TransactionResult{
		Transaction: domain.Transaction{
			ID:     "d2c7f3b0-0000-0000-0000-000000000000",
			Kind:   domain.KindTransfer,
			Status: domain.StatusCommitted,
		},
	}

	testCases := []struct {
		name       string
		key        string
		body       gin.H
		buildStubs func(service *MockService)
		wantCode   int
	}{
		{
			name: "Committed",
			key:  randompkg.IdempotencyKey(),
			body: transferBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(account1, nil)
				service.EXPECT().GetAccount(gomock.Any(), int64(2)).Return(account2, nil)
				service.EXPECT().
					Submit(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ interface{}, req domain.TransactionRequest) (domain.TransactionResult, error) {
						require.Equal(t, []domain.Leg{{AccountID: 1, Amount: -500}, {AccountID: 2, Amount: 500}}, req.Legs)
						return committed, nil
					})
			},
			wantCode: http.StatusOK,
		},
		{
			name: "MissingKey",
			body: transferBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "Rejected",
			key:  randompkg.IdempotencyKey(),
			body: gin.H{
				"kind": "withdrawal",
				"legs": []gin.H{{"account_id": 1, "amount": "-5000.00"}},
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(account1, nil)
				service.EXPECT().
					Submit(gomock.Any(), gomock.Any()).
					Return(domain.TransactionResult{
						Transaction: domain.Transaction{
							Status:       domain.StatusRejected,
							RejectReason: domain.RejectReasonInsufficientFunds,
						},
					}, domain.ErrInsufficientFunds)
			},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "UnknownAccount",
			key:  randompkg.IdempotencyKey(),
			body: gin.H{
				"kind": "deposit",
				"legs": []gin.H{{"account_id": 42, "amount": "5.00"}},
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().
					GetAccount(gomock.Any(), int64(42)).
					Return(domain.Account{}, domain.ErrAccountNotFound)
				service.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "LockTimeout",
			key:  randompkg.IdempotencyKey(),
			body: transferBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(account1, nil)
				service.EXPECT().GetAccount(gomock.Any(), int64(2)).Return(account2, nil)
				service.EXPECT().
					Submit(gomock.Any(), gomock.Any()).
					Return(domain.TransactionResult{}, domain.ErrLockTimeout)
			},
			wantCode: http.StatusConflict,
		},
		{
			name: "StoreUnavailable",
			key:  randompkg.IdempotencyKey(),
			body: transferBody,
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(account1, nil)
				service.EXPECT().GetAccount(gomock.Any(), int64(2)).Return(account2, nil)
				service.EXPECT().
					Submit(gomock.Any(), gomock.Any()).
					Return(domain.TransactionResult{}, domain.ErrStoreUnavailable)
			},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name: "BadKind",
			key:  randompkg.IdempotencyKey(),
			body: gin.H{
				"kind": "loan",
				"legs": []gin.H{{"account_id": 1, "amount": "5.00"}},
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "TooPreciseAmount",
			key:  randompkg.IdempotencyKey(),
			body: gin.H{
				"kind": "deposit",
				"legs": []gin.H{{"account_id": 1, "amount": "5.001"}},
			},
			buildStubs: func(service *MockService) {
				service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(account1, nil)
				service.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			router := newTestRouter(t, service)

			body, err := json.Marshal(tc.body)
			require.NoError(t, err)

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader(body))

			if tc.key != "" {
				request.Header.Set("Idempotency-Key", tc.key)
			}

			router.ServeHTTP(recorder, request)
			require.Equal(t, tc.wantCode, recorder.Code)
		})
	}
}

func TestStatusEndpoints(t *testing.T) {
	testCases := []struct {
		name       string
		url        string
		buildStubs func(service *MockService)
		wantCode   int
	}{
		{
			name: "FreezeOK",
			url:  "/accounts/1/freeze",
			buildStubs: func(service *MockService) {
				frozen := testAccount(1, 1000)
				frozen.Status = domain.StatusFrozen
				service.EXPECT().FreezeAccount(gomock.Any(), int64(1)).Return(frozen, nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name: "CloseWithBalance",
			url:  "/accounts/1/close",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CloseAccount(gomock.Any(), int64(1)).
					Return(domain.Account{}, domain.ErrBalanceNotZero)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "CloseClosed",
			url:  "/accounts/1/close",
			buildStubs: func(service *MockService) {
				service.EXPECT().
					CloseAccount(gomock.Any(), int64(1)).
					Return(domain.Account{}, domain.ErrAccountClosed)
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			service := NewMockService(ctrl)
			tc.buildStubs(service)

			router := newTestRouter(t, service)

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodPost, tc.url, nil)

			router.ServeHTTP(recorder, request)
			require.Equal(t, tc.wantCode, recorder.Code)
		})
	}
}

func TestListEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	service := NewMockService(ctrl)
	service.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(testAccount(1, 700), nil)
	service.EXPECT().
		ListEntries(gomock.Any(), int64(1), int64(2)).
		Return([]domain.Entry{
			{AccountID: 1, Sequence: 2, Direction: domain.Debit, Amount: 300, BalanceAfter: 700},
		}, nil)

	router := newTestRouter(t, service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/accounts/1/entries?from=2", nil)

	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	var res struct {
		Data []EntryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
	require.Len(t, res.Data, 1)
	require.Equal(t, "3.00", res.Data[0].Amount)
	require.Equal(t, "7.00", res.Data[0].BalanceAfter)
}
