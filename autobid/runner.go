package autobid

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/logging"
)

// Runner evaluates every supplier with an enabled rule on a fixed interval.
type Runner struct {
	bidder   *Bidder
	rules    *RuleStore
	interval time.Duration
	log      logrus.FieldLogger
}

func NewRunner(bidder *Bidder, rules *RuleStore, interval time.Duration, log logrus.FieldLogger) *Runner {
	return &Runner{
		bidder:   bidder,
		rules:    rules,
		interval: interval,
		log:      logging.OrDiscard(log).WithField("component", "autobid"),
	}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Warn("auto-bid cycle failed")
			}
		}
	}
}

// RunOnce runs one evaluation cycle over every supplier. It fails only when ctx
// is canceled.
func (r *Runner) RunOnce(ctx context.Context) error {
	accepted := 0
	for _, supplierID := range r.rules.Suppliers() {
		intents, err := r.bidder.Evaluate(ctx, supplierID)
		if err != nil {
			return err
		}
		for _, in := range intents {
			if in.Outcome != nil && in.Outcome.Accepted {
				accepted++
			}
		}
	}
	if accepted > 0 {
		r.log.WithField("accepted", accepted).Info("auto-bid cycle complete")
	}
	return nil
}
