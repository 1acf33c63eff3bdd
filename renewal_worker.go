package tally

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

var renewalParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// cronLogger routes cron's own logging into slog.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("renewal cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("renewal cron: "+msg, append(keysAndValues, "error", err)...)
}

func (e *Engine) startRenewalWorker() error {
	if e.renewal.Schedule == "" {
		return nil
	}

	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		return nil
	}

	logger := cronLogger{logger: e.logger}
	c := cron.New(
		cron.WithParser(renewalParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(e.renewal.Schedule, e.runScheduledRenewal); err != nil {
		return fmt.Errorf("tally: renewal schedule %q: %w", e.renewal.Schedule, err)
	}
	c.Start()
	e.cron = c
	return nil
}

func (e *Engine) stopRenewalWorker(ctx context.Context) {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		e.logger.Warn("renewal worker still running at shutdown", "error", ctx.Err())
	}
}

func (e *Engine) runScheduledRenewal() {
	ctx := context.Background()
	results, err := e.RenewDue(ctx, e.renewal.BatchSize)
	if err != nil {
		e.logger.Error("scheduled renewal failed", "error", err)
		return
	}
	for _, r := range Failed(results) {
		e.logger.Warn("renewal failed",
			"subscription_id", r.SubscriptionID.String(),
			"error", r.Err,
		)
	}
}
