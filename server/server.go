// Package server is the HTTP boundary: JSON endpoints for shops, buyers and
// suppliers, and a websocket feed of domain events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/demand"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
	"github.com/cloudx-io/openprocure/receiptapi"
)

// AuctionService is the part of the auction engine the boundary calls.
type AuctionService interface {
	CreateAuction(ctx context.Context, spec core.AuctionSpec) (*core.Auction, error)
	SubmitBid(ctx context.Context, req core.BidRequest) (*core.BidOutcome, error)
	WithdrawBid(ctx context.Context, auctionID, supplierID, bidID string) (*core.Bid, error)
	Auction(auctionID string) (*core.Auction, error)
	View(auctionID string) (core.AuctionView, error)
	OpenAuctions(category string) []core.AuctionView
	Bids(auctionID string) ([]core.Bid, error)
}

// DemandService is the part of the aggregator the boundary calls.
type DemandService interface {
	SubmitDemand(ctx context.Context, productID, shopID string, quantity int64, window core.DeliveryWindow) (*core.LotContribution, error)
	EvaluateReadiness(lotID string) (demand.Readiness, error)
	ConvertToAuction(ctx context.Context, lotID string, protocol core.Protocol, terms core.AuctionSpec) (*core.Auction, error)
	Lot(lotID string) (*core.Lot, error)
	OpenLots() []*core.Lot
}

// RuleService manages auto-bid rules.
type RuleService interface {
	Configure(rule core.AutoBidRule) (core.AutoBidRule, error)
	Get(ruleID string) (core.AutoBidRule, error)
	ForSupplier(supplierID string) []core.AutoBidRule
}

// ReceiptService looks up signed award receipts.
type ReceiptService interface {
	Receipt(auctionID string) (receiptapi.ReceiptCOSE, error)
}

// ReceiptKey is the receipt signing key's public half.
type ReceiptKey interface {
	KeyID() string
	PublicKeyPEM() (string, error)
}

// Journal reads back persisted events.
type Journal interface {
	Events(ctx context.Context, auctionID string) ([]events.Event, error)
}

// Deps are the components the server exposes. Receipts, Key and Journal may be nil.
type Deps struct {
	Auctions AuctionService
	Demand   DemandService
	Rules    RuleService
	Receipts ReceiptService
	Key      ReceiptKey
	Journal  Journal
}

type Server struct {
	deps     Deps
	log      logrus.FieldLogger
	hub      *events.Hub[events.Event]
	slots    chan struct{}
	upgrader websocket.Upgrader

	onRuleConfigured func(core.AutoBidRule)
}

type Option func(*Server)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithMaxWorkers bounds concurrently served API requests; extra requests get 503.
func WithMaxWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithRuleListener is called with every successfully configured rule.
func WithRuleListener(fn func(core.AutoBidRule)) Option {
	return func(s *Server) { s.onRuleConfigured = fn }
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:     deps,
		hub:      events.NewHub[events.Event](),
		slots:    make(chan struct{}, 64),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDiscard(s.log).WithField("component", "server")
	return s
}

// Handle is an events.Handler feeding the websocket stream.
func (s *Server) Handle(ev events.Event) {
	s.hub.Broadcast(ev)
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	// The stream holds its connection open, so it does not take a worker slot.
	r.GET("/v1/stream", s.handleStream)

	api := r.Group("/v1", s.workerSlots())

	api.POST("/demand", s.handleSubmitDemand)
	api.GET("/lots", s.handleOpenLots)
	api.GET("/lots/:lotID", s.handleLot)
	api.POST("/lots/:lotID/evaluate", s.handleEvaluateLot)
	api.POST("/lots/:lotID/auction", s.handleConvertLot)

	api.POST("/auctions", s.handleCreateAuction)
	api.GET("/auctions", s.handleOpenAuctions)
	api.GET("/auctions/:auctionID", s.handleAuction)
	api.GET("/auctions/:auctionID/bids", s.handleBids)
	api.POST("/auctions/:auctionID/bids", s.handleSubmitBid)
	api.DELETE("/auctions/:auctionID/bids/:bidID", s.handleWithdrawBid)
	api.GET("/auctions/:auctionID/receipt", s.handleReceipt)
	api.GET("/auctions/:auctionID/events", s.handleAuctionEvents)
	api.GET("/receipts/key", s.handleReceiptKey)

	api.PUT("/rules/:ruleID", s.handleConfigureRule)
	api.GET("/rules/:ruleID", s.handleRule)
	api.GET("/suppliers/:supplierID/rules", s.handleSupplierRules)

	return r
}

// workerSlots rejects requests immediately when every slot is taken.
func (s *Server) workerSlots() gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
			c.Next()
		default:
			s.log.WithField("path", c.FullPath()).Info("no workers available, rejecting request")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: errorBody{
				Code:    "overloaded",
				Message: "server is at capacity",
			}})
		}
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request served")
	}
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
