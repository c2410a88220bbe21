package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	recon "kapalku_backend/internals/features/payment/reconciliation/service"
	helper "kapalku_backend/internals/helpers"
)

type Jobs interface {
	RecoverStuck(ctx context.Context) (*recon.Report, error)
	ExpireOverdue(ctx context.Context) (*recon.Report, error)
	BackfillTickets(ctx context.Context) (*recon.Report, error)
	ReconcileDay(ctx context.Context, day time.Time) (*recon.Report, error)
	RedeliverEvents(ctx context.Context) (*recon.Report, error)
}

// Specs are standard 5-field cron expressions, evaluated in UTC. An empty spec
// disables that job.
type Specs struct {
	RecoverStuck   string
	Expire         string
	Reconcile      string
	TicketBackfill  string
	EventRedelivery string
	JobTimeout      time.Duration
}

type cronLogger struct{ log *logrus.Entry }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithField("kv", kv).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithError(err).WithField("kv", kv).Error(msg)
}

// New registers the sweeps; the caller starts and stops the returned cron.
// Overlapping runs of the same job are skipped.
func New(jobs Jobs, specs Specs) (*cron.Cron, error) {
	if specs.JobTimeout <= 0 {
		specs.JobTimeout = 10 * time.Minute
	}
	logger := cronLogger{log: helper.Logger.WithField("component", "cron")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entries := []struct {
		name string
		spec string
		run  func(ctx context.Context) (*recon.Report, error)
	}{
		{recon.JobRecoverStuck, specs.RecoverStuck, jobs.RecoverStuck},
		{recon.JobExpire, specs.Expire, jobs.ExpireOverdue},
		{recon.JobBackfillTickets, specs.TicketBackfill, jobs.BackfillTickets},
		{recon.JobRedeliverEvents, specs.EventRedelivery, jobs.RedeliverEvents},
		{recon.JobReconcile, specs.Reconcile, func(ctx context.Context) (*recon.Report, error) {
			// hari kemarin (UTC) sudah lengkap
			return jobs.ReconcileDay(ctx, time.Now().UTC().AddDate(0, 0, -1))
		}},
	}

	for _, e := range entries {
		if e.spec == "" {
			helper.Logger.WithField("job", e.name).Info("cron job disabled")
			continue
		}
		e := e
		if _, err := c.AddFunc(e.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), specs.JobTimeout)
			defer cancel()
			helper.Logger.WithField("job", e.name).Info("Starting cron job...")
			if _, err := e.run(ctx); err != nil {
				helper.Logger.WithError(err).WithField("job", e.name).Error("cron job failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", e.name, e.spec, err)
		}
	}
	return c, nil
}
