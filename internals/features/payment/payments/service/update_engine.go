// file: internals/features/payment/payments/service/update_engine.go
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/events"
	"kapalku_backend/internals/repositories"
)

const DefaultAuditPayloadMax = 8192

// ApplyInput is one validated notification about to be committed.
type ApplyInput struct {
	Notification dto.MidtransNotification
	Mapping      StatusMapping
	Key          string
	Actor        model.AuditActor
	Raw          []byte
	Now          time.Time
}

type ApplyResult struct {
	Outcome model.AuditOutcome
	Reason  string

	PrevPaymentStatus model.PaymentStatus
	NewPaymentStatus  model.PaymentStatus
	PrevBookingStatus bookingModel.BookingStatus
	NewBookingStatus  bookingModel.BookingStatus

	SeatsReleased      int
	TicketsInvalidated int64

	Payment model.Payment
	Booking bookingModel.Booking
	Events  []events.Event
}

// StatusChanged is true when either status moved.
func (r *ApplyResult) StatusChanged() bool {
	return r.PrevPaymentStatus != r.NewPaymentStatus || r.PrevBookingStatus != r.NewBookingStatus
}

// UpdateEngine commits payment, booking, seats, tickets, audit and the event
// outbox as one unit.
type UpdateEngine struct {
	store           repositories.Store
	auditPayloadMax int
}

func NewUpdateEngine(store repositories.Store, auditPayloadMax int) *UpdateEngine {
	if auditPayloadMax <= 0 {
		auditPayloadMax = DefaultAuditPayloadMax
	}
	return &UpdateEngine{store: store, auditPayloadMax: auditPayloadMax}
}

// Apply never returns an error for stale or duplicate input; those come back
// as a skipped/duplicate outcome with their audit entry committed.
func (e *UpdateEngine) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	var res *ApplyResult
	err := e.store.InTx(ctx, func(tx repositories.Tx) error {
		r, err := e.apply(tx, in)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *UpdateEngine) apply(tx repositories.Tx, in ApplyInput) (*ApplyResult, error) {
	n := in.Notification
	m := in.Mapping

	p, err := tx.LockPaymentByOrderID(n.OrderID)
	if err != nil {
		return nil, err
	}
	b, err := tx.LockBooking(p.PaymentBookingID)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{
		PrevPaymentStatus: p.PaymentStatus,
		NewPaymentStatus:  p.PaymentStatus,
		PrevBookingStatus: b.BookingStatus,
		NewBookingStatus:  b.BookingStatus,
	}

	// re-check under the row lock; the pre-check ran without it
	if AlreadyProcessed(p, in.Key) {
		res.Outcome = model.AuditOutcomeDuplicate
		res.Reason = "already_processed"
		res.Payment, res.Booking = *p, *b
		return res, tx.AppendAudit(e.auditEntry(p, in, res))
	}

	if reason := e.precheck(p, b, in); reason != "" {
		res.Outcome = model.AuditOutcomeSkipped
		res.Reason = reason
		res.Payment, res.Booking = *p, *b
		return res, tx.AppendAudit(e.auditEntry(p, in, res))
	}

	targetBooking := ResolveBookingTarget(b.BookingStatus, m.BookingStatus)
	now := in.Now
	prevPayment := p.PaymentStatus
	prevBooking := *b
	expectedVersion := p.PaymentVersion

	/* ---------- 1. payment ---------- */
	p.PaymentStatus = m.PaymentStatus
	if n.TransactionID != "" {
		p.PaymentGatewayTransactionID = model.StringPtr(n.TransactionID)
	}
	p.PaymentGatewayStatus = model.StringPtr(n.TransactionStatus)
	if n.PaymentType != "" {
		p.PaymentGatewayMethod = model.StringPtr(n.PaymentType)
	}
	if gt := n.GatewayTime(); gt != nil {
		p.PaymentGatewayTime = gt
	}
	if in.Actor == model.ActorWebhook {
		p.PaymentWebhookCount++
		p.PaymentLastWebhookAt = &now
	}
	if m.PaymentStatus == model.PaymentStatusSuccess && p.PaymentPaidAt == nil {
		p.PaymentPaidAt = &now
	}
	p.AppendProcessedKey(in.Key)
	p.PaymentVersion = expectedVersion + 1
	if err := tx.UpdatePayment(p, expectedVersion); err != nil {
		return nil, err
	}

	/* ---------- 2. booking ---------- */
	bookingChanged := b.BookingStatus != targetBooking
	if bookingChanged {
		b.BookingStatus = targetBooking
		switch targetBooking {
		case bookingModel.BookingStatusConfirmed:
			if b.BookingConfirmedAt == nil {
				b.BookingConfirmedAt = &now
			}
		case bookingModel.BookingStatusCancelled, bookingModel.BookingStatusExpired, bookingModel.BookingStatusRefunded:
			b.BookingCancelledAt = &now
			b.BookingCancellationReason = model.StringPtr(cancellationReason(m, n))
		}
	}

	/* ---------- 3. seats ---------- */
	if m.ShouldReleaseSeats && !prevPayment.IsTerminal() && !b.HasSeatsReleased() {
		if _, err := tx.LockSchedule(b.BookingScheduleID); err != nil {
			return nil, err
		}
		if err := tx.AdjustSeats(b.BookingScheduleID, b.BookingPassengerCount); err != nil {
			return nil, err
		}
		b.BookingSeatsReleasedAt = &now
		res.SeatsReleased = b.BookingPassengerCount
		bookingChanged = true
	}

	/* ---------- 4. tickets ---------- */
	if bookingChanged && prevBooking.HadTicketsIssued() && !b.HadTicketsIssued() {
		inv, err := tx.InvalidateTickets(b.BookingID, "booking "+strings.ToLower(string(b.BookingStatus)), now)
		if err != nil {
			return nil, err
		}
		res.TicketsInvalidated = inv
	}

	if bookingChanged {
		if err := tx.UpdateBooking(b); err != nil {
			return nil, err
		}
	}

	/* ---------- 5. audit ---------- */
	res.NewPaymentStatus = p.PaymentStatus
	res.NewBookingStatus = b.BookingStatus
	res.Outcome = model.AuditOutcomeApplied
	if !res.StatusChanged() && !m.RequiresSettled {
		res.Outcome = model.AuditOutcomeNoop
	}
	res.Payment, res.Booking = *p, *b
	if err := tx.AppendAudit(e.auditEntry(p, in, res)); err != nil {
		return nil, err
	}

	/* ---------- 6. outbox ---------- */
	if res.Outcome == model.AuditOutcomeApplied && m.ShouldNotify {
		res.Events = buildEvents(m, n, p, b, now)
		rows, err := outboxRows(res.Events)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertOutbox(rows); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// precheck returns a skip reason, or "" when the transition may proceed.
func (e *UpdateEngine) precheck(p *model.Payment, b *bookingModel.Booking, in ApplyInput) string {
	m := in.Mapping
	if !m.Recognized {
		return "unrecognized_gateway_status:" + in.Notification.TransactionStatus
	}
	if m.RequiresSettled && p.PaymentStatus != model.PaymentStatusSuccess {
		te := &TransitionError{Entity: "payment", From: string(p.PaymentStatus), To: strings.ToUpper(in.Notification.TransactionStatus)}
		return te.Reason()
	}
	if err := ValidatePaymentTransition(p.PaymentStatus, m.PaymentStatus); err != nil {
		return transitionReason(err)
	}
	target := ResolveBookingTarget(b.BookingStatus, m.BookingStatus)
	if err := ValidateBookingTransition(b.BookingStatus, target); err != nil {
		return transitionReason(err)
	}
	if m.Action == ActionConfirm && !amountMatches(in.Notification.GrossAmount, p.PaymentGrossAmount) {
		return "gross_amount_mismatch"
	}
	return ""
}

func transitionReason(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Reason()
	}
	return err.Error()
}

// amountMatches compares Midtrans' decimal string ("150000.00") with rupiah.
func amountMatches(gross string, want int64) bool {
	gross = strings.TrimSpace(gross)
	if gross == "" {
		return true
	}
	f, err := strconv.ParseFloat(gross, 64)
	if err != nil {
		return false
	}
	return int64(f+0.5) == want
}

func parseAmount(gross string, fallback int64) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(gross), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return int64(f + 0.5)
}

func cancellationReason(m StatusMapping, n dto.MidtransNotification) string {
	reason := "payment " + string(m.Action)
	if n.FraudStatus != "" {
		reason += " (fraud " + n.FraudStatus + ")"
	}
	return reason
}

func buildEvents(m StatusMapping, n dto.MidtransNotification, p *model.Payment, b *bookingModel.Booking, now time.Time) []events.Event {
	switch m.NotificationKind {
	case events.PaymentProcessed:
		return []events.Event{events.NewProcessed(p.PaymentOrderID, b.BookingID, string(p.PaymentStatus), string(b.BookingStatus), now)}
	case events.PaymentFailed:
		return []events.Event{events.NewFailed(p.PaymentOrderID, b.BookingID, n.TransactionStatus, now)}
	case events.PaymentRefunded:
		return []events.Event{events.NewRefunded(p.PaymentOrderID, b.BookingID, parseAmount(n.GrossAmount, p.PaymentGrossAmount), now)}
	}
	return nil
}

func outboxRows(evts []events.Event) ([]model.EventOutbox, error) {
	rows := make([]model.EventOutbox, 0, len(evts))
	for _, ev := range evts {
		payload, err := events.Encode(ev)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.EventOutbox{
			OutboxID:        ev.ID,
			OutboxName:      string(ev.Name),
			OutboxOrderID:   ev.OrderID,
			OutboxPayload:   datatypes.JSON(payload),
			OutboxCreatedAt: ev.OccurredAt,
		})
	}
	return rows, nil
}

func (e *UpdateEngine) auditEntry(p *model.Payment, in ApplyInput, res *ApplyResult) *model.PaymentAuditLog {
	pid := p.PaymentID
	entry := &model.PaymentAuditLog{
		AuditPaymentID:     &pid,
		AuditOrderID:       p.PaymentOrderID,
		AuditPrevStatus:    model.StatusPtr(res.PrevPaymentStatus),
		AuditNewStatus:     model.StatusPtr(res.NewPaymentStatus),
		AuditGatewayStatus: in.Notification.TransactionStatus,
		AuditAction:        string(in.Mapping.Action),
		AuditOutcome:       res.Outcome,
		AuditReason:        model.StringPtr(res.Reason),
		AuditActor:         in.Actor,
		AuditPayload:       capPayload(in.Raw, in.Notification, e.auditPayloadMax),
		AuditCreatedAt:     in.Now,
	}
	return entry
}

// capPayload stores the raw body when it fits, otherwise a truncated marker.
func capPayload(raw []byte, n dto.MidtransNotification, max int) datatypes.JSON {
	if len(raw) == 0 {
		b, err := sonic.Marshal(n)
		if err != nil {
			return nil
		}
		raw = b
	}
	if max <= 0 || len(raw) <= max {
		if sonic.Valid(raw) {
			return datatypes.JSON(raw)
		}
	}
	head := raw
	if max > 0 && len(head) > max {
		head = head[:max]
	}
	b, _ := sonic.Marshal(map[string]any{
		"truncated":      true,
		"original_bytes": len(raw),
		"head":           string(head),
	})
	return datatypes.JSON(b)
}
