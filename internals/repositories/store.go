package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
)

/*
Store is the persistence boundary of the payment pipeline.

  - InTx runs fn in one ACID transaction; everything written through Tx
    commits or rolls back together.
  - Lock rows (webhook_locks) are written outside business transactions so a
    lease survives until it is released or expires.
*/
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	AcquireLock(ctx context.Context, orderID, holder string, lease time.Duration, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, orderID, holder string) error

	FindPaymentByOrderID(ctx context.Context, orderID string) (*paymentModel.Payment, error)
	FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*paymentModel.Payment, error)
	FindBooking(ctx context.Context, bookingID uuid.UUID) (*bookingModel.Booking, error)
	FindSchedule(ctx context.Context, scheduleID uuid.UUID) (*bookingModel.Schedule, error)
	ListTickets(ctx context.Context, bookingID uuid.UUID) ([]ticketModel.Ticket, error)

	AppendAudit(ctx context.Context, entry *paymentModel.PaymentAuditLog) error
	ListAudit(ctx context.Context, orderID string) ([]paymentModel.PaymentAuditLog, error)

	// PENDING payments created before createdBefore with no webhook since quietSince.
	FindStalePending(ctx context.Context, createdBefore, quietSince time.Time, limit int) ([]paymentModel.Payment, error)
	// PENDING payments whose expiry is before now.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]paymentModel.Payment, error)
	// Payments created in [from, to).
	FindPaymentsCreatedBetween(ctx context.Context, from, to time.Time) ([]paymentModel.Payment, error)
	// Confirmed/completed bookings whose successful payment has no active tickets.
	FindBookingsMissingTickets(ctx context.Context, limit int) ([]uuid.UUID, error)

	// Outbox rows not yet delivered, created before createdBefore, with fewer
	// than maxAttempts failed publishes. Oldest first.
	FindUndeliveredEvents(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]paymentModel.EventOutbox, error)
	MarkEventDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordEventFailure(ctx context.Context, id uuid.UUID, reason string) error
}

// Tx is the transactional view handed to InTx callbacks.
type Tx interface {
	// Lock* read a row and hold a row-level lock until the transaction ends.
	LockPaymentByOrderID(orderID string) (*paymentModel.Payment, error)
	LockBooking(bookingID uuid.UUID) (*bookingModel.Booking, error)
	LockSchedule(scheduleID uuid.UUID) (*bookingModel.Schedule, error)

	CreateBooking(b *bookingModel.Booking, passengers []bookingModel.Passenger) error
	CreatePayment(p *paymentModel.Payment) error

	// UpdatePayment writes p only if the stored version equals expectedVersion.
	UpdatePayment(p *paymentModel.Payment, expectedVersion int64) error
	UpdateBooking(b *bookingModel.Booking) error

	// AdjustSeats adds delta to the available counter, keeping 0 <= seats <= capacity.
	AdjustSeats(scheduleID uuid.UUID, delta int) error

	ListPassengers(bookingID uuid.UUID) ([]bookingModel.Passenger, error)
	CountActiveTickets(bookingID uuid.UUID) (int64, error)
	CreateTickets(tickets []ticketModel.Ticket) error
	InvalidateTickets(bookingID uuid.UUID, reason string, at time.Time) (int64, error)

	AppendAudit(entry *paymentModel.PaymentAuditLog) error
	InsertOutbox(rows []paymentModel.EventOutbox) error
}
