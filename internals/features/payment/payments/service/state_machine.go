// file: internals/features/payment/payments/service/state_machine.go
package service

import (
	"fmt"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	model "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
)

/*
  Transition tables. Same-state is always allowed (idempotent no-op).
  Terminal states have no entry, so nothing leaves them.
*/

var paymentTransitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentStatusPending: {
		model.PaymentStatusUnderReview,
		model.PaymentStatusSuccess,
		model.PaymentStatusFailed,
		model.PaymentStatusExpired,
		model.PaymentStatusCancelled,
		model.PaymentStatusDenied,
	},
	model.PaymentStatusUnderReview: {
		model.PaymentStatusSuccess,
		model.PaymentStatusDenied,
		model.PaymentStatusCancelled,
		model.PaymentStatusFailed,
		model.PaymentStatusExpired,
	},
	model.PaymentStatusSuccess: {
		model.PaymentStatusRefunded,
		model.PaymentStatusCancelled,
	},
}

var bookingTransitions = map[bookingModel.BookingStatus][]bookingModel.BookingStatus{
	bookingModel.BookingStatusPending: {
		bookingModel.BookingStatusConfirmed,
		bookingModel.BookingStatusCancelled,
		bookingModel.BookingStatusExpired,
	},
	bookingModel.BookingStatusConfirmed: {
		bookingModel.BookingStatusCompleted,
		bookingModel.BookingStatusCancelled,
		bookingModel.BookingStatusRefunded,
	},
	bookingModel.BookingStatusCompleted: {
		bookingModel.BookingStatusRefunded,
	},
}

func CanTransitionPayment(from, to model.PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionBooking(from, to bookingModel.BookingStatus) bool {
	if from == to {
		return true
	}
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError names a rejected transition. It is a reason, not a crash:
// callers log it and acknowledge the notification.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return helper.ErrIllegalTransition }

func (e *TransitionError) Reason() string {
	return fmt.Sprintf("illegal_transition:%s:%s->%s", e.Entity, e.From, e.To)
}

func ValidatePaymentTransition(from, to model.PaymentStatus) error {
	if CanTransitionPayment(from, to) {
		return nil
	}
	return &TransitionError{Entity: "payment", From: string(from), To: string(to)}
}

func ValidateBookingTransition(from, to bookingModel.BookingStatus) error {
	if CanTransitionBooking(from, to) {
		return nil
	}
	return &TransitionError{Entity: "booking", From: string(from), To: string(to)}
}

// ResolveBookingTarget adjusts the mapped booking status to the booking's
// lifecycle: a completed trip stays COMPLETED on a late confirmation.
func ResolveBookingTarget(current, mapped bookingModel.BookingStatus) bookingModel.BookingStatus {
	if current == bookingModel.BookingStatusCompleted && mapped == bookingModel.BookingStatusConfirmed {
		return current
	}
	return mapped
}
