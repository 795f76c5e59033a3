// Package storage persists a projection of the in-memory state to SQLite.
// The aggregator, engine and rule store stay authoritative; the database is for
// readers outside the process and for the event history.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed projection and event journal.
type Store struct {
	db      *sql.DB
	encMode cbor.EncMode
}

// Open opens (creating if needed) the database at path with WAL journaling.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps pragmas and write ordering consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encMode, err := encOpts.EncMode()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}

	return &Store{db: db, encMode: encMode}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ResetProjection clears entity tables. The daemon calls it at startup because
// in-memory state does not survive a restart. Receipts and the journal are kept.
func (s *Store) ResetProjection(ctx context.Context) error {
	for _, table := range []string{"lots", "auctions", "bids", "rules"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// SaveLot upserts a lot snapshot. It reports false when the stored version is
// the same or newer.
func (s *Store) SaveLot(ctx context.Context, lot *core.Lot) (bool, error) {
	data, err := json.Marshal(lot)
	if err != nil {
		return false, fmt.Errorf("marshal lot: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lots (id, product_id, category, status, auction_id, version, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   auction_id = excluded.auction_id,
		   version = excluded.version,
		   data = excluded.data
		 WHERE excluded.version > lots.version`,
		lot.ID, lot.ProductID, lot.Category, string(lot.Status), lot.AuctionID, int64(lot.Version), data,
	)
	if err != nil {
		return false, fmt.Errorf("upsert lot %s: %w", lot.ID, err)
	}
	return applied(res)
}

// SaveAuction upserts an auction snapshot when its version is newer.
func (s *Store) SaveAuction(ctx context.Context, a *core.Auction) (bool, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("marshal auction: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO auctions (id, lot_id, category, protocol, status, version, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   version = excluded.version,
		   data = excluded.data
		 WHERE excluded.version > auctions.version`,
		a.ID, a.LotID, a.Category, string(a.Protocol), string(a.Status), int64(a.Version), data,
	)
	if err != nil {
		return false, fmt.Errorf("upsert auction %s: %w", a.ID, err)
	}
	return applied(res)
}

// SaveBid upserts a bid snapshot when its version is newer.
func (s *Store) SaveBid(ctx context.Context, b *core.Bid) (bool, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("marshal bid: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, supplier_id, status, sequence, version, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   version = excluded.version,
		   data = excluded.data
		 WHERE excluded.version > bids.version`,
		b.ID, b.AuctionID, b.SupplierID, string(b.Status), int64(b.Sequence), int64(b.Version), data,
	)
	if err != nil {
		return false, fmt.Errorf("upsert bid %s: %w", b.ID, err)
	}
	return applied(res)
}

// SaveRule upserts an auto-bid rule snapshot when its version is newer.
func (s *Store) SaveRule(ctx context.Context, r *core.AutoBidRule) (bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("marshal rule: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, supplier_id, category, version, data)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   category = excluded.category,
		   version = excluded.version,
		   data = excluded.data
		 WHERE excluded.version > rules.version`,
		r.ID, r.SupplierID, r.Category, int64(r.Version), data,
	)
	if err != nil {
		return false, fmt.Errorf("upsert rule %s: %w", r.ID, err)
	}
	return applied(res)
}

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SaveReceipt stores the signed receipt of an auction. Receipts are write-once.
func (s *Store) SaveReceipt(auctionID, keyID string, receipt []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO receipts (auction_id, key_id, cose, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(auction_id) DO NOTHING",
		auctionID, keyID, receipt, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert receipt %s: %w", auctionID, err)
	}
	return nil
}

// AppendEvent journals an event with a CBOR payload.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	payload, err := s.encMode.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (seq, type, ts, auction_id, lot_id, payload) VALUES (?, ?, ?, ?, ?, ?)",
		int64(ev.Seq), string(ev.Type), ev.At.UTC().UnixMilli(), ev.AuctionID, ev.LotID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Lot returns the stored snapshot of a lot.
func (s *Store) Lot(ctx context.Context, id string) (*core.Lot, error) {
	var lot core.Lot
	if err := s.loadOne(ctx, "SELECT data FROM lots WHERE id = ?", id, &lot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lot %s: %w", id, core.ErrLotNotFound)
		}
		return nil, err
	}
	return &lot, nil
}

// Auction returns the stored snapshot of an auction.
func (s *Store) Auction(ctx context.Context, id string) (*core.Auction, error) {
	var a core.Auction
	if err := s.loadOne(ctx, "SELECT data FROM auctions WHERE id = ?", id, &a); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %s: %w", id, core.ErrAuctionNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// Rule returns the stored snapshot of an auto-bid rule.
func (s *Store) Rule(ctx context.Context, id string) (*core.AutoBidRule, error) {
	var r core.AutoBidRule
	if err := s.loadOne(ctx, "SELECT data FROM rules WHERE id = ?", id, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, core.ErrRuleNotFound)
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) loadOne(ctx context.Context, query, id string, dst any) error {
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return nil
}

// Bids returns the stored bids of an auction in ledger order.
func (s *Store) Bids(ctx context.Context, auctionID string) ([]core.Bid, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM bids WHERE auction_id = ? ORDER BY sequence ASC", auctionID)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	var bids []core.Bid
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		var b core.Bid
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("unmarshal bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// Receipt returns a stored receipt.
func (s *Store) Receipt(ctx context.Context, auctionID string) ([]byte, error) {
	var cose []byte
	err := s.db.QueryRowContext(ctx, "SELECT cose FROM receipts WHERE auction_id = ?", auctionID).Scan(&cose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrReceiptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query receipt: %w", err)
	}
	return cose, nil
}

// Events returns journaled events for an auction (all events when auctionID is
// empty) in bus sequence order. Rows may have been written out of that order.
func (s *Store) Events(ctx context.Context, auctionID string) ([]events.Event, error) {
	query := "SELECT payload FROM events ORDER BY seq ASC"
	args := []any{}
	if auctionID != "" {
		query = "SELECT payload FROM events WHERE auction_id = ? ORDER BY seq ASC"
		args = append(args, auctionID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev events.Event
		if err := cbor.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LastSeq returns the highest journaled bus sequence, 0 when empty.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}
