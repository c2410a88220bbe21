package events

import (
	"time"

	"github.com/google/uuid"
)

type Name string

// Routing keys on the payment.events exchange equal the event name.
const (
	PaymentProcessed Name = "payment.processed"
	PaymentFailed    Name = "payment.failed"
	PaymentRefunded  Name = "payment.refunded"
)

// Event is a domain notification produced by the payment pipeline after commit.
// Only the fields relevant to Name are set.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Name          Name      `json:"name"`
	OrderID       string    `json:"orderId"`
	BookingID     uuid.UUID `json:"bookingId"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	BookingStatus string    `json:"bookingStatus,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func NewProcessed(orderID string, bookingID uuid.UUID, paymentStatus, bookingStatus string, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Name:          PaymentProcessed,
		OrderID:       orderID,
		BookingID:     bookingID,
		PaymentStatus: paymentStatus,
		BookingStatus: bookingStatus,
		OccurredAt:    at,
	}
}

func NewFailed(orderID string, bookingID uuid.UUID, reason string, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Name:       PaymentFailed,
		OrderID:    orderID,
		BookingID:  bookingID,
		Reason:     reason,
		OccurredAt: at,
	}
}

func NewRefunded(orderID string, bookingID uuid.UUID, amount int64, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Name:       PaymentRefunded,
		OrderID:    orderID,
		BookingID:  bookingID,
		Amount:     amount,
		OccurredAt: at,
	}
}
