// file: internals/features/payment/reconciliation/service/reconciliation_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	payService "kapalku_backend/internals/features/payment/payments/service"
	"kapalku_backend/internals/events"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/repositories"
)

var tracer = otel.Tracer("kapalku_backend/reconciliation")

const (
	JobRecoverStuck    = "recover_stuck"
	JobExpire          = "expire"
	JobBackfillTickets = "backfill_tickets"
	JobReconcile       = "reconcile"
	JobRedeliverEvents = "redeliver_events"
)

type Config struct {
	StaleAfter time.Duration // PENDING older than this with no recent webhook
	BatchSize  int
	BatchDelay time.Duration
	ScanLimit  int // candidates per run

	RedeliverAfter   time.Duration // outbox rows younger than this are still in flight
	EventMaxAttempts int           // failed publishes before a row is left for manual review
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 200
	}
	if c.RedeliverAfter <= 0 {
		c.RedeliverAfter = time.Minute
	}
	if c.EventMaxAttempts <= 0 {
		c.EventMaxAttempts = 20
	}
	return c
}

// Processor is the shared transition path (payments service).
type Processor interface {
	Process(ctx context.Context, in payService.ProcessInput) (*payService.ProcessResult, error)
}

type Service struct {
	store     repositories.Store
	gateway   payService.Gateway
	processor Processor
	tickets   payService.TicketIssuer
	events    events.Dispatcher
	cfg       Config
	now       func() time.Time
}

func New(store repositories.Store, gateway payService.Gateway, processor Processor, tickets payService.TicketIssuer, dispatcher events.Dispatcher, cfg Config) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		processor: processor,
		tickets:   tickets,
		events:    dispatcher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

/* =======================================================================
   Batching
======================================================================= */

// runBatches processes items in groups of BatchSize concurrently, pausing
// BatchDelay between groups. It stops early once stop reports true.
func runBatches[T any](ctx context.Context, cfg Config, items []T, stop func() bool, fn func(ctx context.Context, item T)) error {
	for start := 0; start < len(items); start += cfg.BatchSize {
		if stop != nil && stop() {
			return nil
		}
		if start > 0 && cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.BatchDelay):
			}
		}
		end := start + cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, it := range items[start:end] {
			it := it
			g.Go(func() error {
				fn(gctx, it)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Service) finish(r *Report, log *logrus.Entry) *Report {
	r.FinishedAt = s.now()
	log.WithFields(logrus.Fields{
		"scanned":    r.Scanned,
		"corrected":  r.Corrected,
		"skipped":    r.Skipped,
		"failed":     r.Failed,
		"mismatches": len(r.Mismatches),
		"took":       r.FinishedAt.Sub(r.StartedAt).String(),
	}).Info("sweep finished")
	return r
}

/* =======================================================================
   1) Stuck-payment recovery
======================================================================= */

func (s *Service) RecoverStuck(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.recover_stuck")
	defer span.End()

	now := s.now()
	log := helper.Logger.WithField("job", JobRecoverStuck)
	report := newReport(JobRecoverStuck, now)

	threshold := now.Add(-s.cfg.StaleAfter)
	candidates, err := s.store.FindStalePending(ctx, threshold, threshold, s.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("find stale payments: %w", err)
	}
	report.Scanned = len(candidates)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	var gatewayDown atomic.Bool
	err = runBatches(ctx, s.cfg, candidates, gatewayDown.Load, func(ctx context.Context, p model.Payment) {
		plog := log.WithField("order_id", p.PaymentOrderID)

		n, err := s.gateway.CheckStatus(ctx, p.PaymentOrderID)
		if err != nil {
			switch {
			case errors.Is(err, helper.ErrNotFound):
				// never checked out at the gateway; the expiry sweep owns it
				report.skipped()
			case errors.Is(err, helper.ErrDependencyUnavailable):
				gatewayDown.Store(true)
				plog.WithError(err).Warn("gateway unavailable, stopping recovery run")
				report.failed()
			default:
				plog.WithError(err).Error("gateway status query failed")
				report.failed()
			}
			return
		}
		s.feed(ctx, report, plog, *n, model.ActorRecovery)
	})
	if err != nil {
		return s.finish(report, log), err
	}
	return s.finish(report, log), nil
}

// feed pushes a gateway status through the shared processing path.
func (s *Service) feed(ctx context.Context, report *Report, log *logrus.Entry, n dto.MidtransNotification, actor model.AuditActor) {
	res, err := s.processor.Process(ctx, payService.ProcessInput{Notification: n, Actor: actor})
	if err != nil {
		// recovery paths log and move on
		log.WithError(err).Error("processing gateway status failed")
		report.failed()
		return
	}
	if res.Outcome == model.AuditOutcomeApplied {
		report.corrected()
		return
	}
	report.skipped()
}

/* =======================================================================
   2) Expiry sweep
======================================================================= */

func (s *Service) ExpireOverdue(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.expire")
	defer span.End()

	now := s.now()
	log := helper.Logger.WithField("job", JobExpire)
	report := newReport(JobExpire, now)

	overdue, err := s.store.FindExpiredPending(ctx, now, s.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("find expired payments: %w", err)
	}
	report.Scanned = len(overdue)

	var gatewayDown atomic.Bool
	err = runBatches(ctx, s.cfg, overdue, gatewayDown.Load, func(ctx context.Context, p model.Payment) {
		plog := log.WithField("order_id", p.PaymentOrderID)

		// a settlement that raced the expiry wins
		n, err := s.gateway.CheckStatus(ctx, p.PaymentOrderID)
		switch {
		case err == nil:
			m := payService.MapGatewayStatus(n.TransactionStatus, n.FraudStatus, n.PaymentType)
			if m.Recognized && m.PaymentStatus != model.PaymentStatusPending {
				s.feed(ctx, report, plog, *n, model.ActorExpiry)
				return
			}
		case errors.Is(err, helper.ErrNotFound):
		case errors.Is(err, helper.ErrDependencyUnavailable):
			gatewayDown.Store(true)
			plog.WithError(err).Warn("gateway unavailable, leaving payment for next run")
			report.failed()
			return
		default:
			plog.WithError(err).Error("gateway status query failed, leaving payment for next run")
			report.failed()
			return
		}

		if cerr := s.gateway.Cancel(ctx, p.PaymentOrderID); cerr != nil && !errors.Is(cerr, helper.ErrNotFound) {
			plog.WithError(cerr).Warn("gateway cancel failed, expiring locally")
		}
		s.feed(ctx, report, plog, syntheticExpire(p), model.ActorExpiry)
	})
	return s.finish(report, log), err
}

func syntheticExpire(p model.Payment) dto.MidtransNotification {
	return dto.MidtransNotification{
		OrderID:           p.PaymentOrderID,
		TransactionStatus: "expire",
		StatusCode:        "407",
		GrossAmount:       fmt.Sprintf("%d.00", p.PaymentGrossAmount),
	}
}

/* =======================================================================
   3) Missing-ticket backfill
======================================================================= */

func (s *Service) BackfillTickets(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.backfill_tickets")
	defer span.End()

	log := helper.Logger.WithField("job", JobBackfillTickets)
	report := newReport(JobBackfillTickets, s.now())

	ids, err := s.store.FindBookingsMissingTickets(ctx, s.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("find bookings missing tickets: %w", err)
	}
	report.Scanned = len(ids)

	err = runBatches(ctx, s.cfg, ids, nil, func(ctx context.Context, id uuid.UUID) {
		n, err := s.tickets.Issue(ctx, id)
		if err != nil {
			log.WithError(err).WithField("booking_id", id).Error("ticket backfill failed")
			report.failed()
			return
		}
		if n > 0 {
			report.corrected()
			return
		}
		report.skipped()
	})
	return s.finish(report, log), err
}

/* =======================================================================
   4) Event redelivery (outbox)
======================================================================= */

// RedeliverEvents hands undelivered outbox rows back to the dispatcher.
// Delivery is at-least-once; consumers dedupe on the event id.
func (s *Service) RedeliverEvents(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.redeliver_events")
	defer span.End()

	now := s.now()
	log := helper.Logger.WithField("job", JobRedeliverEvents)
	report := newReport(JobRedeliverEvents, now)

	rows, err := s.store.FindUndeliveredEvents(ctx, now.Add(-s.cfg.RedeliverAfter), s.cfg.EventMaxAttempts, s.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("find undelivered events: %w", err)
	}
	report.Scanned = len(rows)
	span.SetAttributes(attribute.Int("candidates", len(rows)))

	var batch []events.Event
	for _, row := range rows {
		ev, err := events.Decode(row.OutboxPayload)
		if err != nil {
			log.WithError(err).WithField("outbox_id", row.OutboxID).Error("outbox payload unreadable")
			if rerr := s.store.RecordEventFailure(ctx, row.OutboxID, err.Error()); rerr != nil {
				log.WithError(rerr).Warn("record event failure failed")
			}
			report.failed()
			continue
		}
		batch = append(batch, ev)
		report.corrected()
	}
	if len(batch) > 0 && s.events != nil {
		s.events.Dispatch(ctx, batch...)
	}
	return s.finish(report, log), ctx.Err()
}

/* =======================================================================
   5) Full-day reconciliation
======================================================================= */

// ReconcileDay compares every payment created on day (UTC) with the gateway.
// Only PENDING → SUCCESS drift is corrected; anything else is reported.
func (s *Service) ReconcileDay(ctx context.Context, day time.Time) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.reconcile_day")
	defer span.End()

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	span.SetAttributes(attribute.String("day", from.Format("2006-01-02")))

	log := helper.Logger.WithFields(logrus.Fields{"job": JobReconcile, "day": from.Format("2006-01-02")})
	report := newReport(JobReconcile, s.now())

	payments, err := s.store.FindPaymentsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	report.Scanned = len(payments)

	var gatewayDown atomic.Bool
	err = runBatches(ctx, s.cfg, payments, gatewayDown.Load, func(ctx context.Context, p model.Payment) {
		plog := log.WithField("order_id", p.PaymentOrderID)

		n, err := s.gateway.CheckStatus(ctx, p.PaymentOrderID)
		if err != nil {
			switch {
			case errors.Is(err, helper.ErrNotFound):
				if p.PaymentStatus == model.PaymentStatusPending || p.PaymentStatus == model.PaymentStatusCancelled ||
					p.PaymentStatus == model.PaymentStatusExpired {
					report.skipped()
					return
				}
				s.recordMismatch(ctx, report, plog, p, "not_found", "payment missing at gateway")
			case errors.Is(err, helper.ErrDependencyUnavailable):
				gatewayDown.Store(true)
				report.failed()
			default:
				plog.WithError(err).Error("gateway status query failed")
				report.failed()
			}
			return
		}

		m := payService.MapGatewayStatus(n.TransactionStatus, n.FraudStatus, n.PaymentType)
		if !m.Recognized || m.PaymentStatus == p.PaymentStatus {
			report.skipped()
			return
		}
		if p.PaymentStatus == model.PaymentStatusPending && m.PaymentStatus == model.PaymentStatusSuccess {
			s.feed(ctx, report, plog, *n, model.ActorReconciliation)
			return
		}
		s.recordMismatch(ctx, report, plog, p, n.TransactionStatus,
			fmt.Sprintf("gateway implies %s, local %s", m.PaymentStatus, p.PaymentStatus))
	})
	return s.finish(report, log), err
}

func (s *Service) recordMismatch(ctx context.Context, report *Report, log *logrus.Entry, p model.Payment, gatewayStatus, note string) {
	log.WithFields(logrus.Fields{
		"local_status":   p.PaymentStatus,
		"gateway_status": gatewayStatus,
	}).Warn("reconciliation mismatch, needs manual review")

	report.mismatch(Mismatch{
		OrderID:       p.PaymentOrderID,
		LocalStatus:   string(p.PaymentStatus),
		GatewayStatus: gatewayStatus,
		Note:          note,
	})

	pid := p.PaymentID
	entry := &model.PaymentAuditLog{
		AuditPaymentID:     &pid,
		AuditOrderID:       p.PaymentOrderID,
		AuditPrevStatus:    model.StatusPtr(p.PaymentStatus),
		AuditNewStatus:     model.StatusPtr(p.PaymentStatus),
		AuditGatewayStatus: gatewayStatus,
		AuditAction:        "reconcile",
		AuditOutcome:       model.AuditOutcomeMismatch,
		AuditReason:        model.StringPtr(note),
		AuditActor:         model.ActorReconciliation,
		AuditCreatedAt:     s.now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.WithError(err).Error("audit append failed")
	}
}
