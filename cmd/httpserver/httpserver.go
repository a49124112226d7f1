// Package httpserver manages server creation and api routing.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/go-petr/bank-ledger/internal/accountcache"
	"github.com/go-petr/bank-ledger/internal/accountlock"
	"github.com/go-petr/bank-ledger/internal/events"
	"github.com/go-petr/bank-ledger/internal/idempotency"
	"github.com/go-petr/bank-ledger/internal/ledgerdelivery"
	"github.com/go-petr/bank-ledger/internal/ledgerrepo"
	"github.com/go-petr/bank-ledger/internal/middleware"
	"github.com/go-petr/bank-ledger/internal/processor"
	"github.com/go-petr/bank-ledger/pkg/configpkg"
	"github.com/go-petr/bank-ledger/pkg/currencypkg"
	"github.com/go-petr/bank-ledger/pkg/dbpkg"
)

const sweepInterval = 1 * time.Hour

// Server holds the engine, handlers router and configuration.
type Server struct {
	Engine  *gin.Engine
	Service *processor.Service
	Config  configpkg.Config
}

// ServeHTTP implements the http.Handler interface for the Server type.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Engine.ServeHTTP(w, r)
}

// New creates Server type with instantiated domains and routes.
func New(ctx context.Context, logger zerolog.Logger, config configpkg.Config) (*Server, error) {
	store, err := newStore(config)
	if err != nil {
		return nil, err
	}

	locks := accountlock.New(config.LockTimeout)
	cache := accountcache.New()
	tracker := idempotency.New(config.IdempotencyRetention)
	tracker.StartJanitor(logger.WithContext(ctx), sweepInterval)

	var publisher events.Publisher = events.LogPublisher{}
	if config.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(config.KafkaBroker, config.KafkaTopic)
	}

	service := processor.New(store, locks, cache, tracker, publisher)
	handler := ledgerdelivery.NewHandler(service)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestLogger(logger))
	engine.Use(gin.Recovery())

	engine.POST("/accounts", handler.CreateAccount)
	engine.GET("/accounts/:id", handler.GetAccount)
	engine.GET("/accounts/:id/entries", handler.ListEntries)
	engine.POST("/accounts/:id/freeze", handler.FreezeAccount)
	engine.POST("/accounts/:id/unfreeze", handler.UnfreezeAccount)
	engine.POST("/accounts/:id/close", handler.CloseAccount)

	engine.POST("/transactions", handler.Submit)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("currency", currencypkg.ValidCurrency)
		if err != nil {
			return nil, errors.New("cannot register currency validator")
		}
	}

	server := &Server{
		Engine:  engine,
		Service: service,
		Config:  config,
	}

	return server, nil
}

func newStore(config configpkg.Config) (processor.Store, error) {
	if config.DBDriver == "memory" {
		return ledgerrepo.NewRepoMem(), nil
	}

	conn, err := dbpkg.Setup(config.DBDriver, config.DBSource)
	if err != nil {
		return nil, err
	}

	return ledgerrepo.NewRepoPGS(conn), nil
}
