package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/receiptapi"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

var errBadRequest = errors.New("malformed request body")

// statusOf maps a domain error kind onto an HTTP status.
func statusOf(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindProtocol, core.KindInvariant:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := errorBody{Code: core.CodeOf(err), Message: err.Error()}
	switch status {
	case http.StatusBadRequest:
		if errors.Is(err, errBadRequest) {
			body.Code = "bad_request"
		}
	case http.StatusInternalServerError:
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		body.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

type demandRequest struct {
	ProductID string              `json:"product_id"`
	ShopID    string              `json:"shop_id"`
	Quantity  int64               `json:"quantity"`
	Window    core.DeliveryWindow `json:"window"`
}

func (s *Server) handleSubmitDemand(c *gin.Context) {
	var req demandRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.deps.Demand.SubmitDemand(c.Request.Context(), req.ProductID, req.ShopID, req.Quantity, req.Window)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleOpenLots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lots": s.deps.Demand.OpenLots()})
}

func (s *Server) handleLot(c *gin.Context) {
	lot, err := s.deps.Demand.Lot(c.Param("lotID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func (s *Server) handleEvaluateLot(c *gin.Context) {
	lotID := c.Param("lotID")
	readiness, err := s.deps.Demand.EvaluateReadiness(lotID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lot_id": lotID, "readiness": readiness})
}

// auctionTerms is the wire form of core.AuctionSpec with durations as Go
// duration strings ("90s", "2m").
type auctionTerms struct {
	ProductID    string          `json:"product_id"`
	Category     string          `json:"category"`
	Protocol     core.Protocol   `json:"protocol"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	Quantity     int64           `json:"quantity"`
	StartAt      time.Time       `json:"start_at"`
	EndAt        time.Time       `json:"end_at"`

	StartPrice    decimal.Decimal `json:"start_price"`
	MinDecrement  decimal.Decimal `json:"min_decrement"`
	TickDecrement decimal.Decimal `json:"tick_decrement"`
	TickInterval  string          `json:"tick_interval"`

	AntiSnipeWindow    string `json:"anti_snipe_window"`
	AntiSnipeExtension string `json:"anti_snipe_extension"`
	MaxExtensions      int    `json:"max_extensions"`
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return d, nil
}

func (t auctionTerms) spec() (core.AuctionSpec, error) {
	spec := core.AuctionSpec{
		ProductID:     t.ProductID,
		Category:      t.Category,
		Protocol:      t.Protocol,
		ReservePrice:  t.ReservePrice,
		Quantity:      t.Quantity,
		StartAt:       t.StartAt,
		EndAt:         t.EndAt,
		StartPrice:    t.StartPrice,
		MinDecrement:  t.MinDecrement,
		TickDecrement: t.TickDecrement,
		MaxExtensions: t.MaxExtensions,
	}
	var err error
	if spec.TickInterval, err = parseDuration("tick_interval", t.TickInterval); err != nil {
		return spec, err
	}
	if spec.AntiSnipeWindow, err = parseDuration("anti_snipe_window", t.AntiSnipeWindow); err != nil {
		return spec, err
	}
	if spec.AntiSnipeExtension, err = parseDuration("anti_snipe_extension", t.AntiSnipeExtension); err != nil {
		return spec, err
	}
	return spec, nil
}

func (s *Server) handleConvertLot(c *gin.Context) {
	var terms auctionTerms
	if !s.bind(c, &terms) {
		return
	}
	spec, err := terms.spec()
	if err != nil {
		s.fail(c, err)
		return
	}
	auction, err := s.deps.Demand.ConvertToAuction(c.Request.Context(), c.Param("lotID"), terms.Protocol, spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, auction)
}

func (s *Server) handleCreateAuction(c *gin.Context) {
	var terms auctionTerms
	if !s.bind(c, &terms) {
		return
	}
	spec, err := terms.spec()
	if err != nil {
		s.fail(c, err)
		return
	}
	auction, err := s.deps.Auctions.CreateAuction(c.Request.Context(), spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, auction)
}

func (s *Server) handleOpenAuctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"auctions": s.deps.Auctions.OpenAuctions(c.Query("category"))})
}

// handleAuction serves the bidder view while the auction runs and the full
// record once it is closed.
func (s *Server) handleAuction(c *gin.Context) {
	auction, err := s.deps.Auctions.Auction(c.Param("auctionID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if auction.Status.IsClosed() {
		c.JSON(http.StatusOK, auction)
		return
	}
	view, err := s.deps.Auctions.View(auction.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleBids discloses the bid history only after close, so sealed bids stay
// private while the auction runs.
func (s *Server) handleBids(c *gin.Context) {
	auction, err := s.deps.Auctions.Auction(c.Param("auctionID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !auction.Status.IsClosed() {
		s.fail(c, fmt.Errorf("auction %s is %s: %w", auction.ID, auction.Status, core.ErrAuctionNotClosed))
		return
	}
	bids, err := s.deps.Auctions.Bids(auction.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids})
}

type bidRequest struct {
	SupplierID   string          `json:"supplier_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	PaymentTerms string          `json:"payment_terms"`
}

type bidResponse struct {
	*core.BidOutcome
	ReasonCode    string `json:"reason_code,omitempty"`
	ReasonMessage string `json:"reason_message,omitempty"`
}

// handleSubmitBid answers 200 for every resolved outcome; a rejection is an
// outcome, not a failed request.
func (s *Server) handleSubmitBid(c *gin.Context) {
	var req bidRequest
	if !s.bind(c, &req) {
		return
	}
	outcome, err := s.deps.Auctions.SubmitBid(c.Request.Context(), core.BidRequest{
		AuctionID:    c.Param("auctionID"),
		SupplierID:   req.SupplierID,
		Price:        req.Price,
		Quantity:     req.Quantity,
		PaymentTerms: req.PaymentTerms,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := bidResponse{BidOutcome: outcome, ReasonCode: outcome.ReasonCode()}
	if outcome.Reason != nil {
		resp.ReasonMessage = outcome.Reason.Error()
	}
	c.JSON(http.StatusOK, resp)
}

const supplierHeader = "X-Supplier-ID"

func (s *Server) handleWithdrawBid(c *gin.Context) {
	bid, err := s.deps.Auctions.WithdrawBid(c.Request.Context(), c.Param("auctionID"), c.GetHeader(supplierHeader), c.Param("bidID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bid)
}

func (s *Server) handleReceipt(c *gin.Context) {
	if s.deps.Receipts == nil {
		s.fail(c, fmt.Errorf("auction %s: %w", c.Param("auctionID"), core.ErrReceiptNotFound))
		return
	}
	raw, err := s.deps.Receipts.Receipt(c.Param("auctionID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	receipt, err := raw.Parse()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptapi.ReceiptResponse{
		AuctionID:    receipt.AuctionID,
		KeyID:        receipt.KeyID,
		ReceiptCOSE:  raw.EncodeBase64(),
		Receipt:      receipt,
		KeyAlgorithm: receiptapi.KeyAlgorithm,
	})
}

// handleAuctionEvents replays the journal of a closed auction. The journal holds
// unredacted bids, so it is only served once nothing is private any more.
func (s *Server) handleAuctionEvents(c *gin.Context) {
	auction, err := s.deps.Auctions.Auction(c.Param("auctionID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !auction.Status.IsClosed() {
		s.fail(c, fmt.Errorf("auction %s is %s: %w", auction.ID, auction.Status, core.ErrAuctionNotClosed))
		return
	}
	if s.deps.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"events": []events.Event{}})
		return
	}
	evs, err := s.deps.Journal.Events(c.Request.Context(), auction.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) handleReceiptKey(c *gin.Context) {
	if s.deps.Key == nil {
		s.fail(c, fmt.Errorf("receipt signing disabled: %w", core.ErrReceiptNotFound))
		return
	}
	pem, err := s.deps.Key.PublicKeyPEM()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptapi.KeyResponse{
		KeyID:        s.deps.Key.KeyID(),
		KeyAlgorithm: receiptapi.KeyAlgorithm,
		PublicKey:    pem,
	})
}

func (s *Server) handleConfigureRule(c *gin.Context) {
	var rule core.AutoBidRule
	if !s.bind(c, &rule) {
		return
	}
	rule.ID = c.Param("ruleID")
	stored, err := s.deps.Rules.Configure(rule)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.onRuleConfigured != nil {
		s.onRuleConfigured(stored)
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleRule(c *gin.Context) {
	rule, err := s.deps.Rules.Get(c.Param("ruleID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleSupplierRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.deps.Rules.ForSupplier(c.Param("supplierID"))})
}
