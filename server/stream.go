package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// redact strips what a bidder may not see from an event. Bids on a sealed
// auction stay private until it closes; rejected bids never reach the feed with
// their price.
func redact(ev events.Event) events.Event {
	out := ev
	sealedOpen := ev.Auction != nil && ev.Auction.Protocol == core.ProtocolSealed && !ev.Auction.Status.IsClosed()
	if ev.Bid != nil && (sealedOpen || ev.Type == events.BidRejected) {
		out.Bid = &core.Bid{ID: ev.Bid.ID, AuctionID: ev.Bid.AuctionID, Status: ev.Bid.Status}
	}
	return out
}

// handleStream upgrades to a websocket and pushes every domain event, optionally
// filtered with ?auction_id= or ?lot_id=.
func (s *Server) handleStream(c *gin.Context) {
	auctionID := c.Query("auction_id")
	lotID := c.Query("lot_id")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(streamBuffer)
	defer s.hub.Unsubscribe(sub)

	log := s.log.WithFields(logrus.Fields{"auction_id": auctionID, "lot_id": lotID})
	log.Debug("stream subscriber connected")

	// Reads only serve control frames; a read error means the client left.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Debug("stream subscriber disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if auctionID != "" && ev.AuctionID != auctionID {
				continue
			}
			if lotID != "" && ev.LotID != lotID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(redact(ev)); err != nil {
				log.WithError(err).Debug("stream write failed")
				return
			}
		}
	}
}
