// Command procurementd runs the demand aggregator, the auction engine and the
// auto-bidder behind the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/openprocure/attest"
	"github.com/cloudx-io/openprocure/autobid"
	"github.com/cloudx-io/openprocure/bidstore"
	"github.com/cloudx-io/openprocure/config"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/demand"
	"github.com/cloudx-io/openprocure/engine"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
	"github.com/cloudx-io/openprocure/receiptapi"
	"github.com/cloudx-io/openprocure/server"
	"github.com/cloudx-io/openprocure/storage"
)

func main() {
	envFile := flag.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	winProbability := flag.Float64("autobid-win-probability", 0.5, "Win probability reported by the built-in estimator")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *winProbability, logger); err != nil {
		logger.WithError(err).Error("procurementd stopped")
		os.Exit(1)
	}
	logger.Info("procurementd stopped")
}

func run(ctx context.Context, cfg config.Config, winProbability float64, logger *logrus.Logger) error {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close store")
		}
	}()
	if err := store.ResetProjection(ctx); err != nil {
		return err
	}

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	catalog, err := seed.Catalog()
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	profiles := seed.Profiles()

	keys, err := attest.LoadKeyManager(cfg.ReceiptKeyFile)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	eng := engine.New(
		engine.WithConfig(cfg.Engine()),
		engine.WithBidStore(bidstore.New()),
		engine.WithSupplierProfiles(profiles),
		engine.WithBus(bus),
		engine.WithLogger(logger),
	)
	defer eng.Close()

	agg := demand.New(catalog, eng,
		demand.WithConfig(cfg.Demand()),
		demand.WithBus(bus),
		demand.WithLogger(logger),
	)
	defer agg.Close()

	rules := autobid.NewRuleStore(nil, logger)
	issuer := attest.NewIssuer(keys, attest.WithLogger(logger), attest.WithReceiptStore(store))
	projector := storage.NewProjector(store, rules, logger)

	// Signing and SQLite writes run on their own goroutines, never under an
	// auction or aggregator lock. Close drains them before the store closes.
	issuerQueue := events.NewQueue(issuer.Handle)
	defer issuerQueue.Close()
	projectorQueue := events.NewQueue(projector.Handle)
	defer projectorQueue.Close()

	bus.Subscribe(rules.Handle)
	bus.Subscribe(issuerQueue.Handle)
	bus.Subscribe(projectorQueue.Handle)

	for _, r := range seed.Rules {
		stored, err := rules.Configure(r)
		if err != nil {
			return fmt.Errorf("seed rule %s: %w", r.ID, err)
		}
		projector.SaveRule(ctx, stored)
	}

	srv := server.New(server.Deps{
		Auctions: eng,
		Demand:   agg,
		Rules:    rules,
		Receipts: receiptLookup{issuer: issuer, store: store},
		Key:      keys,
		Journal:  store,
	},
		server.WithLogger(logger),
		server.WithMaxWorkers(cfg.MaxWorkers),
		server.WithRuleListener(func(r core.AutoBidRule) { projector.SaveRule(ctx, r) }),
	)
	bus.Subscribe(srv.Handle)

	bidder := autobid.NewBidder(eng, rules, autobid.ConstantEstimator(winProbability),
		autobid.WithConcurrency(cfg.AutoBidConcurrency),
		autobid.WithSupplierProfiles(profiles),
		autobid.WithLogger(logger),
	)
	runner := autobid.NewRunner(bidder, rules, cfg.AutoBidInterval, logger)

	logger.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddr,
		"db":       cfg.DBPath,
		"products": len(catalog),
		"rules":    len(seed.Rules),
		"key_id":   keys.KeyID(),
		"workers":  cfg.MaxWorkers,
	}).Info("procurementd starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		if err := runner.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// receiptLookup serves receipts issued by this process and falls back to the
// ones persisted by earlier runs.
type receiptLookup struct {
	issuer *attest.Issuer
	store  *storage.Store
}

func (l receiptLookup) Receipt(auctionID string) (receiptapi.ReceiptCOSE, error) {
	raw, err := l.issuer.Receipt(auctionID)
	if err == nil || !errors.Is(err, core.ErrReceiptNotFound) {
		return raw, err
	}
	stored, err := l.store.Receipt(context.Background(), auctionID)
	if err != nil {
		return nil, err
	}
	return receiptapi.ReceiptCOSE(stored), nil
}
