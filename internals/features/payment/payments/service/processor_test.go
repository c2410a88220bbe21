package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/events"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/testutil"
)

func reasonOf(a model.PaymentAuditLog) string {
	if a.AuditReason == nil {
		return ""
	}
	return *a.AuditReason
}

func TestProcessSettlementConfirmsBooking(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Passengers: 3}, ProcessorConfig{})

	res := h.deliver(t, "settlement")

	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, model.PaymentStatusSuccess, res.PaymentStatus)
	assert.Equal(t, bookingModel.BookingStatusConfirmed, res.BookingStatus)
	assert.Equal(t, 3, res.TicketsIssued)

	p := h.store.Payment(h.fx.OrderID)
	assert.Equal(t, model.PaymentStatusSuccess, p.PaymentStatus)
	assert.Equal(t, int64(2), p.PaymentVersion)
	assert.Equal(t, 1, p.PaymentWebhookCount)
	assert.NotNil(t, p.PaymentPaidAt)
	assert.NotNil(t, p.PaymentLastWebhookAt)
	assert.True(t, p.HasProcessedKey(KeyFor(ptr(h.notification("settlement")))))

	b := h.store.Booking(h.fx.BookingID)
	assert.Equal(t, bookingModel.BookingStatusConfirmed, b.BookingStatus)
	assert.NotNil(t, b.BookingConfirmedAt)

	// seats stay sold
	assert.Equal(t, h.seatsWhilePending(), h.store.AvailableSeats(h.fx.ScheduleID))
	assert.Equal(t, 3, h.store.ActiveTickets(h.fx.BookingID))
	assert.Equal(t, 1, h.rec.Count(events.PaymentProcessed))
	assert.False(t, h.store.LockHeld(h.fx.OrderID))
}

func TestProcessWritesEventsToOutbox(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	h.deliver(t, "settlement")
	h.deliver(t, "settlement")

	rows := h.store.Outbox(h.fx.OrderID)
	require.Len(t, rows, 1)
	assert.Equal(t, string(events.PaymentProcessed), rows[0].OutboxName)
	assert.False(t, rows[0].Delivered())

	ev, err := events.Decode(rows[0].OutboxPayload)
	require.NoError(t, err)
	require.Len(t, h.rec.Events(), 1)
	assert.Equal(t, h.rec.Events()[0].ID, ev.ID)
	assert.Equal(t, rows[0].OutboxID, ev.ID)
}

func TestProcessSkippedTransitionWritesNoOutbox(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	res := h.deliver(t, "refund")
	require.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Empty(t, h.store.Outbox(h.fx.OrderID))
}

func TestProcessRepeatedDeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	first := h.deliver(t, "settlement")
	require.Equal(t, model.AuditOutcomeApplied, first.Outcome)

	for i := 0; i < 4; i++ {
		res := h.deliver(t, "settlement")
		assert.Equal(t, model.AuditOutcomeDuplicate, res.Outcome)
		assert.Equal(t, model.PaymentStatusSuccess, res.PaymentStatus)
	}

	assert.Equal(t, 1, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeApplied))
	assert.Equal(t, 4, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeDuplicate))
	assert.Equal(t, 1, h.store.TicketBatches())
	assert.Equal(t, h.fx.Passengers, len(h.store.Tickets(h.fx.BookingID)))
	assert.Equal(t, 1, h.rec.Count(events.PaymentProcessed))
	assert.Equal(t, int64(2), h.store.Payment(h.fx.OrderID).PaymentVersion)
}

func TestProcessConcurrentDuplicateDeliveries(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Passengers: 4}, ProcessorConfig{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.proc.Process(context.Background(), ProcessInput{
				Notification: h.notification("settlement"),
				Actor:        model.ActorWebhook,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeApplied))
	assert.Equal(t, 9, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeDuplicate))
	assert.Equal(t, 4, h.store.ActiveTickets(h.fx.BookingID))
	assert.Equal(t, 1, h.store.TicketBatches())
	assert.Equal(t, h.seatsWhilePending(), h.store.AvailableSeats(h.fx.ScheduleID))
}

func TestProcessConcurrentConflictingStatuses(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Passengers: 2}, ProcessorConfig{})

	// SUCCESS -> CANCELLED is legal, so cancel stays out of the mix
	statuses := []string{"settlement", "expire", "pending", "settlement", "deny",
		"expire", "settlement", "deny", "pending", "expire"}

	var wg sync.WaitGroup
	for _, s := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			_, err := h.proc.Process(context.Background(), ProcessInput{
				Notification: h.notification(status),
				Actor:        model.ActorWebhook,
			})
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	p := h.store.Payment(h.fx.OrderID)
	b := h.store.Booking(h.fx.BookingID)

	// whichever terminal status won, the seat counter and tickets agree with it
	switch p.PaymentStatus {
	case model.PaymentStatusSuccess:
		assert.Equal(t, bookingModel.BookingStatusConfirmed, b.BookingStatus)
		assert.Equal(t, h.seatsWhilePending(), h.store.AvailableSeats(h.fx.ScheduleID))
		assert.Equal(t, 2, h.store.ActiveTickets(h.fx.BookingID))
	case model.PaymentStatusExpired, model.PaymentStatusDenied:
		assert.Equal(t, h.fx.SeatsBefore, h.store.AvailableSeats(h.fx.ScheduleID))
		assert.Equal(t, 0, h.store.ActiveTickets(h.fx.BookingID))
		assert.NotNil(t, b.BookingSeatsReleasedAt)
	default:
		t.Fatalf("unexpected final status %s", p.PaymentStatus)
	}

	// exactly one status change committed; pending is a same-state noop
	applied := 0
	for _, a := range h.store.Audits(h.fx.OrderID) {
		if a.AuditOutcome == model.AuditOutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.False(t, h.store.LockHeld(h.fx.OrderID))
}

func TestProcessExpireReleasesSeatsExactlyOnce(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Capacity: 10, Passengers: 3}, ProcessorConfig{})
	require.Equal(t, 7, h.store.AvailableSeats(h.fx.ScheduleID))

	res := h.deliver(t, "expire")
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, 3, res.SeatsReleased)
	assert.Equal(t, 10, h.store.AvailableSeats(h.fx.ScheduleID))

	// replay, then a different terminal status
	assert.Equal(t, model.AuditOutcomeDuplicate, h.deliver(t, "expire").Outcome)
	cancel := h.deliver(t, "cancel")
	assert.Equal(t, model.AuditOutcomeSkipped, cancel.Outcome)

	assert.Equal(t, 10, h.store.AvailableSeats(h.fx.ScheduleID))
	b := h.store.Booking(h.fx.BookingID)
	assert.Equal(t, bookingModel.BookingStatusExpired, b.BookingStatus)
	assert.Equal(t, 1, h.rec.Count(events.PaymentFailed))
}

func TestProcessLateSettlementAfterExpiryIsSkipped(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	h.deliver(t, "expire")
	res := h.deliver(t, "settlement")

	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Equal(t, "illegal_transition:payment:EXPIRED->SUCCESS", res.Reason)
	assert.Equal(t, model.PaymentStatusExpired, h.store.Payment(h.fx.OrderID).PaymentStatus)
	assert.Equal(t, h.fx.SeatsBefore, h.store.AvailableSeats(h.fx.ScheduleID))
	assert.Equal(t, 0, h.store.ActiveTickets(h.fx.BookingID))
}

func TestProcessStalePendingAfterSettlementIsNoop(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	h.deliver(t, "settlement")
	res := h.deliver(t, "pending")

	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "illegal_transition:payment:SUCCESS->PENDING")
	assert.Equal(t, model.PaymentStatusSuccess, h.store.Payment(h.fx.OrderID).PaymentStatus)
}

func TestProcessRefundAfterConfirmation(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Capacity: 20, Passengers: 2}, ProcessorConfig{})

	h.deliver(t, "settlement")
	require.Equal(t, 2, h.store.ActiveTickets(h.fx.BookingID))
	require.Equal(t, 18, h.store.AvailableSeats(h.fx.ScheduleID))

	res := h.deliver(t, "refund")
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, model.PaymentStatusRefunded, res.PaymentStatus)
	assert.Equal(t, bookingModel.BookingStatusRefunded, res.BookingStatus)
	assert.Equal(t, 2, res.SeatsReleased)

	assert.Equal(t, 20, h.store.AvailableSeats(h.fx.ScheduleID))
	assert.Equal(t, 0, h.store.ActiveTickets(h.fx.BookingID))
	assert.Len(t, h.store.Tickets(h.fx.BookingID), 2)
	assert.Equal(t, 1, h.rec.Count(events.PaymentRefunded))
}

func TestProcessRefundBeforePaymentIsIllegal(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	res := h.deliver(t, "refund")
	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Equal(t, "illegal_transition:payment:PENDING->REFUNDED", res.Reason)
	assert.Equal(t, h.seatsWhilePending(), h.store.AvailableSeats(h.fx.ScheduleID))
}

func TestProcessPartialRefundKeepsTrip(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	h.deliver(t, "settlement")
	res := h.deliver(t, "partial_refund")

	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, model.PaymentStatusSuccess, res.PaymentStatus)
	assert.Equal(t, 0, res.SeatsReleased)
	assert.Equal(t, h.fx.Passengers, h.store.ActiveTickets(h.fx.BookingID))
	assert.Equal(t, 1, h.rec.Count(events.PaymentRefunded))
}

func TestProcessPartialRefundRequiresSettledPayment(t *testing.T) {
	for _, status := range []string{"partial_refund", "partial_chargeback"} {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t, testutil.SeedOptions{Passengers: 2}, ProcessorConfig{})

			res := h.deliver(t, status)
			assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
			assert.Equal(t, "illegal_transition:payment:PENDING->"+strings.ToUpper(status), res.Reason)
			assert.Equal(t, model.PaymentStatusPending, h.store.Payment(h.fx.OrderID).PaymentStatus)
			assert.Equal(t, bookingModel.BookingStatusPending, h.store.Booking(h.fx.BookingID).BookingStatus)
			assert.Zero(t, h.rec.Count(events.PaymentRefunded))

			// the real settlement still confirms and issues tickets
			res = h.deliver(t, "settlement")
			assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
			assert.Equal(t, model.PaymentStatusSuccess, res.PaymentStatus)
			assert.Equal(t, 2, h.store.ActiveTickets(h.fx.BookingID))
		})
	}
}

func TestProcessFraudChallengeThenAccept(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	n := h.notification("capture")
	n.PaymentType = "credit_card"
	n.FraudStatus = "challenge"
	res := h.deliverAs(t, n, model.ActorWebhook)
	assert.Equal(t, model.PaymentStatusUnderReview, res.PaymentStatus)
	assert.Equal(t, bookingModel.BookingStatusPending, res.BookingStatus)
	assert.Equal(t, 0, h.store.ActiveTickets(h.fx.BookingID))

	n.FraudStatus = "accept"
	res = h.deliverAs(t, n, model.ActorWebhook)
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, model.PaymentStatusSuccess, res.PaymentStatus)
	assert.Equal(t, h.fx.Passengers, h.store.ActiveTickets(h.fx.BookingID))
}

func TestProcessUnknownStatusFailsClosed(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	res := h.deliver(t, "teleported")
	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Reason, "unrecognized_gateway_status"))

	p := h.store.Payment(h.fx.OrderID)
	assert.Equal(t, model.PaymentStatusPending, p.PaymentStatus)
	assert.Empty(t, p.ProcessedKeys())
	assert.Empty(t, h.rec.Events())

	// a real status afterwards still goes through
	assert.Equal(t, model.AuditOutcomeApplied, h.deliver(t, "settlement").Outcome)
}

func TestProcessGrossAmountMismatchIsSkipped(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	n := h.notification("settlement")
	n.GrossAmount = "1000.00"
	res := h.deliverAs(t, n, model.ActorWebhook)

	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Equal(t, "gross_amount_mismatch", res.Reason)
	assert.Equal(t, model.PaymentStatusPending, h.store.Payment(h.fx.OrderID).PaymentStatus)
}

func TestProcessUnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	n := h.notification("settlement")
	n.OrderID = "ORD-DOES-NOT-EXIST"
	res := h.deliverAs(t, n, model.ActorWebhook)

	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Equal(t, "payment_not_found", res.Reason)
	assert.Equal(t, 1, h.store.CountAudits("ORD-DOES-NOT-EXIST", model.AuditOutcomeSkipped))
	assert.False(t, h.store.LockHeld("ORD-DOES-NOT-EXIST"))
}

func TestProcessLockContentionIsAcknowledged(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{LockWait: time.Nanosecond})
	h.store.HoldLock(h.fx.OrderID, "other-worker", time.Now().Add(time.Minute))

	res := h.deliver(t, "settlement")

	assert.Equal(t, model.AuditOutcomeSkipped, res.Outcome)
	assert.Equal(t, "lock_contention", res.Reason)
	assert.Equal(t, model.PaymentStatusPending, h.store.Payment(h.fx.OrderID).PaymentStatus)
	assert.True(t, h.store.LockHeld(h.fx.OrderID))
}

func TestProcessTakesOverExpiredLease(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{LockWait: time.Nanosecond})
	h.store.HoldLock(h.fx.OrderID, "crashed-worker", time.Now().Add(-time.Second))

	res := h.deliver(t, "settlement")
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.False(t, h.store.LockHeld(h.fx.OrderID))
}

func TestProcessRetriesTransientDatabaseErrors(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})
	h.store.FailNextTx(helper.ErrTransientInfra, helper.ErrVersionConflict)

	res := h.deliver(t, "settlement")
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, 1, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeApplied))
}

func TestProcessSurfacesTransientErrorAfterBudget(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})
	h.store.FailNextTx(helper.ErrTransientInfra, helper.ErrTransientInfra, helper.ErrTransientInfra)

	_, err := h.proc.Process(context.Background(), ProcessInput{
		Notification: h.notification("settlement"),
		Actor:        model.ActorWebhook,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, helper.ErrTransientInfra))

	assert.Equal(t, model.PaymentStatusPending, h.store.Payment(h.fx.OrderID).PaymentStatus)
	assert.Equal(t, 1, h.store.CountAudits(h.fx.OrderID, model.AuditOutcomeFailed))
	assert.False(t, h.store.LockHeld(h.fx.OrderID))

	// the sender's retry succeeds
	assert.Equal(t, model.AuditOutcomeApplied, h.deliver(t, "settlement").Outcome)
}

func TestProcessNonRetryableErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})
	boom := errors.New("constraint violated")
	h.store.FailNextTx(boom)

	_, err := h.proc.Process(context.Background(), ProcessInput{
		Notification: h.notification("settlement"),
		Actor:        model.ActorWebhook,
	})
	require.ErrorIs(t, err, boom)

	var failed []model.PaymentAuditLog
	for _, a := range h.store.Audits(h.fx.OrderID) {
		if a.AuditOutcome == model.AuditOutcomeFailed {
			failed = append(failed, a)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "constraint violated", reasonOf(failed[0]))
}

func TestProcessTicketFailureKeepsConfirmation(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{Passengers: 2}, ProcessorConfig{})
	h.store.FailTicketCreation(errors.New("qr signer offline"))

	res := h.deliver(t, "settlement")
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)
	assert.Equal(t, 0, res.TicketsIssued)

	assert.Equal(t, model.PaymentStatusSuccess, h.store.Payment(h.fx.OrderID).PaymentStatus)
	assert.Equal(t, bookingModel.BookingStatusConfirmed, h.store.Booking(h.fx.BookingID).BookingStatus)
	assert.Equal(t, 0, h.store.ActiveTickets(h.fx.BookingID))
	assert.Equal(t, 1, h.rec.Count(events.PaymentProcessed))

	var reasons []string
	for _, a := range h.store.Audits(h.fx.OrderID) {
		if a.AuditOutcome == model.AuditOutcomeFailed {
			reasons = append(reasons, reasonOf(a))
		}
	}
	assert.Equal(t, []string{"ticket_issuance_failed"}, reasons)

	// backfill picks it up later
	h.store.FailTicketCreation(nil)
	missing, err := h.store.FindBookingsMissingTickets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	n, err := h.issuer.Issue(context.Background(), missing[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessRecoveryDoesNotCountAsWebhook(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{})

	res := h.deliverAs(t, h.notification("settlement"), model.ActorRecovery)
	assert.Equal(t, model.AuditOutcomeApplied, res.Outcome)

	p := h.store.Payment(h.fx.OrderID)
	assert.Equal(t, 0, p.PaymentWebhookCount)
	assert.Nil(t, p.PaymentLastWebhookAt)

	audits := h.store.Audits(h.fx.OrderID)
	require.NotEmpty(t, audits)
	assert.Equal(t, model.ActorRecovery, audits[len(audits)-1].AuditActor)
}

func TestProcessAuditStoresRawPayload(t *testing.T) {
	h := newHarness(t, testutil.SeedOptions{}, ProcessorConfig{AuditPayloadMax: 64})

	raw := []byte(`{"order_id":"` + h.fx.OrderID + `","transaction_status":"settlement","padding":"` +
		strings.Repeat("x", 200) + `"}`)
	_, err := h.proc.Process(context.Background(), ProcessInput{
		Notification: h.notification("settlement"),
		Raw:          raw,
		Actor:        model.ActorWebhook,
	})
	require.NoError(t, err)

	audits := h.store.Audits(h.fx.OrderID)
	require.NotEmpty(t, audits)
	payload := string(audits[len(audits)-1].AuditPayload)
	assert.Contains(t, payload, `"truncated":true`)
	assert.Contains(t, payload, `"original_bytes"`)
}
