// file: internals/features/payment/payments/service/processor.go
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/events"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
	"kapalku_backend/internals/repositories"
)

// TicketIssuer is the post-commit ticket step.
type TicketIssuer interface {
	Issue(ctx context.Context, bookingID uuid.UUID) (int, error)
}

type ProcessorConfig struct {
	LockLease       time.Duration
	LockWait        time.Duration
	AuditPayloadMax int
	DBRetry         resilience.RetryPolicy
}

// ProcessInput is one notification from any trigger (webhook, recovery, expiry).
type ProcessInput struct {
	Notification dto.MidtransNotification
	Raw          []byte
	Actor        model.AuditActor
}

type ProcessResult struct {
	OrderID       string                     `json:"order_id"`
	Outcome       model.AuditOutcome         `json:"outcome"`
	Reason        string                     `json:"reason,omitempty"`
	PaymentStatus model.PaymentStatus        `json:"payment_status,omitempty"`
	BookingStatus bookingModel.BookingStatus `json:"booking_status,omitempty"`
	TicketsIssued int                        `json:"tickets_issued,omitempty"`
	SeatsReleased int                        `json:"seats_released,omitempty"`
}

// Processor is the single code path from a gateway status to committed state.
type Processor struct {
	store   repositories.Store
	lock    *WebhookLock
	engine  *UpdateEngine
	tickets TicketIssuer
	events  events.Dispatcher
	dbRetry resilience.RetryPolicy
	now     func() time.Time
}

func NewProcessor(store repositories.Store, tickets TicketIssuer, dispatcher events.Dispatcher, cfg ProcessorConfig) *Processor {
	if cfg.DBRetry.MaxAttempts == 0 {
		cfg.DBRetry = repositories.DBRetryPolicy(3)
	}
	return &Processor{
		store:   store,
		lock:    NewWebhookLock(store, cfg.LockLease, cfg.LockWait),
		engine:  NewUpdateEngine(store, cfg.AuditPayloadMax),
		tickets: tickets,
		events:  dispatcher,
		dbRetry: cfg.DBRetry,
		now:     time.Now,
	}
}

// WithClock is for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	p.lock.now = now
	return p
}

/*
Process returns an error only when retrying could help (transient infra after
the retry budget, unexpected failures). Lock contention, duplicates, stale or
illegal transitions and unknown orders are acknowledged with a result.
*/
func (p *Processor) Process(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	in.Notification.Normalize()
	n := in.Notification

	ctx, span := tracer.Start(ctx, "payment.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", n.OrderID),
		attribute.String("transaction_status", n.TransactionStatus),
		attribute.String("actor", string(in.Actor)),
	)

	log := helper.Logger.WithFields(logrus.Fields{
		"order_id":           n.OrderID,
		"transaction_status": n.TransactionStatus,
		"actor":              in.Actor,
	})

	res, err := p.process(ctx, in, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return res, nil
}

func (p *Processor) process(ctx context.Context, in ProcessInput, log *logrus.Entry) (*ProcessResult, error) {
	n := in.Notification
	key := KeyFor(&n)
	mapping := MapGatewayStatus(n.TransactionStatus, n.FraudStatus, n.PaymentType)

	// 1) per-order lease
	release, err := p.lock.Acquire(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, helper.ErrLockContention) {
			log.Info("order locked by another worker, acknowledging")
			p.auditOutside(ctx, nil, in, mapping, model.AuditOutcomeSkipped, "lock_contention")
			return &ProcessResult{OrderID: n.OrderID, Outcome: model.AuditOutcomeSkipped, Reason: "lock_contention"}, nil
		}
		return nil, err
	}

	var (
		res           *ApplyResult
		evts          []events.Event
		ticketsIssued int
	)
	func() {
		defer release()

		// 2) payment lookup + idempotency fast path
		var pay *model.Payment
		pay, err = p.store.FindPaymentByOrderID(ctx, n.OrderID)
		if err != nil {
			if errors.Is(err, helper.ErrNotFound) {
				log.Warn("notification for unknown order, ignoring")
				p.auditOutside(ctx, nil, in, mapping, model.AuditOutcomeSkipped, "payment_not_found")
				res = &ApplyResult{Outcome: model.AuditOutcomeSkipped, Reason: "payment_not_found"}
				err = nil
			}
			return
		}
		if AlreadyProcessed(pay, key) {
			log.Debug("notification already processed")
			p.auditOutside(ctx, pay, in, mapping, model.AuditOutcomeDuplicate, "already_processed")
			res = &ApplyResult{
				Outcome:          model.AuditOutcomeDuplicate,
				Reason:           "already_processed",
				NewPaymentStatus: pay.PaymentStatus,
				Payment:          *pay,
			}
			return
		}

		// 3) map + validate + commit, retried on transient DB errors
		err = p.dbRetry.Do(ctx, func(ctx context.Context) error {
			r, aerr := p.engine.Apply(ctx, ApplyInput{
				Notification: n,
				Mapping:      mapping,
				Key:          key,
				Actor:        in.Actor,
				Raw:          in.Raw,
				Now:          p.now(),
			})
			if aerr != nil {
				return aerr
			}
			res = r
			return nil
		})
		if err != nil {
			log.WithError(err).Error("payment update failed")
			p.auditOutside(ctx, pay, in, mapping, model.AuditOutcomeFailed, failureReason(err))
			return
		}

		switch res.Outcome {
		case model.AuditOutcomeSkipped:
			log.WithField("reason", res.Reason).Warn("notification skipped")
		case model.AuditOutcomeApplied:
			log.WithFields(logrus.Fields{
				"payment_status": res.NewPaymentStatus,
				"booking_status": res.NewBookingStatus,
				"seats_released": res.SeatsReleased,
			}).Info("payment transition applied")
		}

		// 4) tickets after commit, best effort
		if res.Outcome == model.AuditOutcomeApplied && mapping.ShouldIssueTickets &&
			res.PrevPaymentStatus != model.PaymentStatusSuccess && p.tickets != nil {
			issued, terr := p.tickets.Issue(ctx, res.Booking.BookingID)
			if terr != nil {
				log.WithError(terr).Error("ticket issuance failed, left for backfill")
				p.auditOutside(ctx, &res.Payment, in, mapping, model.AuditOutcomeFailed, "ticket_issuance_failed")
			}
			ticketsIssued = issued
		}
		evts = res.Events
	}()
	if err != nil {
		return nil, err
	}

	// 5) events after the lease is gone
	if len(evts) > 0 && p.events != nil {
		p.events.Dispatch(ctx, evts...)
	}

	return &ProcessResult{
		OrderID:       n.OrderID,
		Outcome:       res.Outcome,
		Reason:        res.Reason,
		PaymentStatus: res.NewPaymentStatus,
		BookingStatus: res.NewBookingStatus,
		TicketsIssued: ticketsIssued,
		SeatsReleased: res.SeatsReleased,
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, helper.ErrDependencyUnavailable):
		return "dependency_unavailable"
	case repositories.IsRetryableDBError(err):
		return "transient_infra: " + err.Error()
	}
	return err.Error()
}

// auditOutside writes an audit entry for paths that never reached the
// transaction. Failure to write it is logged only.
func (p *Processor) auditOutside(ctx context.Context, pay *model.Payment, in ProcessInput, m StatusMapping, outcome model.AuditOutcome, reason string) {
	entry := &model.PaymentAuditLog{
		AuditOrderID:       in.Notification.OrderID,
		AuditGatewayStatus: in.Notification.TransactionStatus,
		AuditAction:        string(m.Action),
		AuditOutcome:       outcome,
		AuditReason:        model.StringPtr(reason),
		AuditActor:         in.Actor,
		AuditPayload:       capPayload(in.Raw, in.Notification, p.engine.auditPayloadMax),
		AuditCreatedAt:     p.now(),
	}
	if pay != nil {
		pid := pay.PaymentID
		entry.AuditPaymentID = &pid
		entry.AuditPrevStatus = model.StatusPtr(pay.PaymentStatus)
		entry.AuditNewStatus = model.StatusPtr(pay.PaymentStatus)
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.AppendAudit(actx, entry); err != nil {
		helper.Logger.WithError(err).WithField("order_id", entry.AuditOrderID).Error("audit append failed")
	}
}
