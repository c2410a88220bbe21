package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ticketService "kapalku_backend/internals/features/booking/tickets/service"
	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/events"
	"kapalku_backend/internals/repositories"
	"kapalku_backend/internals/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	store  *testutil.MemStore
	rec    *events.Recorder
	issuer *ticketService.Issuer
	proc   *Processor
	fx     testutil.PendingBooking
}

func newHarness(t *testing.T, opts testutil.SeedOptions, cfg ProcessorConfig) *harness {
	t.Helper()
	store := testutil.NewMemStore()
	fx := store.SeedPendingBooking(opts)
	rec := &events.Recorder{}
	issuer := ticketService.NewIssuer(store, "ticket-secret")

	if cfg.DBRetry.MaxAttempts == 0 {
		cfg.DBRetry = repositories.DBRetryPolicy(3).WithClock(noSleep, nil)
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &harness{
		store:  store,
		rec:    rec,
		issuer: issuer,
		proc:   NewProcessor(store, issuer, rec, cfg),
		fx:     fx,
	}
}

func (h *harness) notification(status string) dto.MidtransNotification {
	return dto.MidtransNotification{
		OrderID:           h.fx.OrderID,
		TransactionID:     "tx-" + h.fx.OrderID,
		TransactionStatus: status,
		StatusCode:        "200",
		GrossAmount:       fmt.Sprintf("%d.00", h.fx.Amount),
		PaymentType:       "bank_transfer",
		TransactionTime:   "2026-10-01 10:00:00",
	}
}

func (h *harness) deliver(t *testing.T, status string) *ProcessResult {
	t.Helper()
	return h.deliverAs(t, h.notification(status), model.ActorWebhook)
}

func (h *harness) deliverAs(t *testing.T, n dto.MidtransNotification, actor model.AuditActor) *ProcessResult {
	t.Helper()
	res, err := h.proc.Process(context.Background(), ProcessInput{Notification: n, Actor: actor})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// seatsWhilePending is the schedule counter with this booking's seats held.
func (h *harness) seatsWhilePending() int {
	return h.fx.SeatsBefore - h.fx.Passengers
}

func ptr[T any](v T) *T { return &v }
