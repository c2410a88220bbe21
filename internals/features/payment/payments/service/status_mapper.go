// file: internals/features/payment/payments/service/status_mapper.go
package service

import (
	"strings"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/events"
	helper "kapalku_backend/internals/helpers"
)

type Action string

const (
	ActionConfirm       Action = "confirm"
	ActionReview        Action = "review"
	ActionAwait         Action = "await_payment"
	ActionDeny          Action = "deny"
	ActionCancel        Action = "cancel"
	ActionExpire        Action = "expire"
	ActionFail          Action = "fail"
	ActionRefund        Action = "refund"
	ActionPartialRefund Action = "partial_refund"
	ActionChargeback    Action = "chargeback"
	ActionIgnore        Action = "ignore"
)

// StatusMapping is the outcome of mapping one gateway status onto the
// internal payment/booking pair plus the side effects it implies.
type StatusMapping struct {
	PaymentStatus      model.PaymentStatus
	BookingStatus      bookingModel.BookingStatus
	Action             Action
	ShouldIssueTickets bool
	ShouldReleaseSeats bool
	ShouldNotify       bool
	NotificationKind   events.Name
	// only a settled (SUCCESS) payment may take this status
	RequiresSettled bool
	// false for gateway statuses this integration does not know
	Recognized bool
}

/* =======================================================================
   Midtrans transaction_status → internal
======================================================================= */

var (
	mapConfirmed = StatusMapping{
		PaymentStatus: model.PaymentStatusSuccess, BookingStatus: bookingModel.BookingStatusConfirmed,
		Action: ActionConfirm, ShouldIssueTickets: true, ShouldNotify: true, NotificationKind: events.PaymentProcessed,
		Recognized: true,
	}
	mapUnderReview = StatusMapping{
		PaymentStatus: model.PaymentStatusUnderReview, BookingStatus: bookingModel.BookingStatusPending,
		Action: ActionReview, ShouldNotify: true, NotificationKind: events.PaymentProcessed,
		Recognized: true,
	}
	mapPending = StatusMapping{
		PaymentStatus: model.PaymentStatusPending, BookingStatus: bookingModel.BookingStatusPending,
		Action: ActionAwait, Recognized: true,
	}
	mapDenied = StatusMapping{
		PaymentStatus: model.PaymentStatusDenied, BookingStatus: bookingModel.BookingStatusCancelled,
		Action: ActionDeny, ShouldReleaseSeats: true, ShouldNotify: true, NotificationKind: events.PaymentFailed,
		Recognized: true,
	}
	mapCancelled = StatusMapping{
		PaymentStatus: model.PaymentStatusCancelled, BookingStatus: bookingModel.BookingStatusCancelled,
		Action: ActionCancel, ShouldReleaseSeats: true, ShouldNotify: true, NotificationKind: events.PaymentFailed,
		Recognized: true,
	}
	mapExpired = StatusMapping{
		PaymentStatus: model.PaymentStatusExpired, BookingStatus: bookingModel.BookingStatusExpired,
		Action: ActionExpire, ShouldReleaseSeats: true, ShouldNotify: true, NotificationKind: events.PaymentFailed,
		Recognized: true,
	}
	mapFailed = StatusMapping{
		PaymentStatus: model.PaymentStatusFailed, BookingStatus: bookingModel.BookingStatusCancelled,
		Action: ActionFail, ShouldReleaseSeats: true, ShouldNotify: true, NotificationKind: events.PaymentFailed,
		Recognized: true,
	}
	mapRefunded = StatusMapping{
		PaymentStatus: model.PaymentStatusRefunded, BookingStatus: bookingModel.BookingStatusRefunded,
		Action: ActionRefund, ShouldReleaseSeats: true, ShouldNotify: true, NotificationKind: events.PaymentRefunded,
		Recognized: true,
	}
	// partial refund keeps the trip: seats stay sold
	mapPartialRefund = StatusMapping{
		PaymentStatus: model.PaymentStatusSuccess, BookingStatus: bookingModel.BookingStatusConfirmed,
		Action: ActionPartialRefund, ShouldNotify: true, NotificationKind: events.PaymentRefunded,
		RequiresSettled: true, Recognized: true,
	}
	mapUnknown = StatusMapping{
		PaymentStatus: model.PaymentStatusPending, BookingStatus: bookingModel.BookingStatusPending,
		Action: ActionIgnore,
	}
)

// MapGatewayStatus is pure. Unknown statuses fail closed to PENDING/PENDING
// with no side effects.
func MapGatewayStatus(transactionStatus, fraudStatus, paymentType string) StatusMapping {
	ts := strings.ToLower(strings.TrimSpace(transactionStatus))
	fs := strings.ToLower(strings.TrimSpace(fraudStatus))
	pt := strings.ToLower(strings.TrimSpace(paymentType))

	switch ts {
	case "capture":
		// fraud review only applies to card captures
		if pt != "" && pt != "credit_card" {
			return mapConfirmed
		}
		switch fs {
		case "", "accept":
			return mapConfirmed
		case "challenge":
			return mapUnderReview
		case "deny":
			return mapDenied
		}
		helper.Logger.WithFields(map[string]any{
			"transaction_status": ts,
			"fraud_status":       fs,
		}).Warn("unrecognized fraud status on capture, holding as pending")
		return mapUnknown
	case "settlement":
		return mapConfirmed
	case "pending":
		return mapPending
	case "authorize":
		// pre-authorized card, funds not captured yet
		m := mapUnderReview
		m.ShouldNotify = false
		m.NotificationKind = ""
		return m
	case "deny":
		return mapDenied
	case "cancel":
		return mapCancelled
	case "expire":
		return mapExpired
	case "failure":
		return mapFailed
	case "refund":
		return mapRefunded
	case "chargeback":
		m := mapRefunded
		m.Action = ActionChargeback
		return m
	case "partial_refund":
		return mapPartialRefund
	case "partial_chargeback":
		m := mapPartialRefund
		m.Action = ActionChargeback
		return m
	}

	helper.Logger.WithFields(map[string]any{
		"transaction_status": ts,
		"fraud_status":       fs,
		"payment_type":       pt,
	}).Warn("unrecognized gateway status, holding as pending")
	return mapUnknown
}

// BookingStatusFor is the fixed payment → booking table.
func BookingStatusFor(s model.PaymentStatus) bookingModel.BookingStatus {
	switch s {
	case model.PaymentStatusSuccess:
		return bookingModel.BookingStatusConfirmed
	case model.PaymentStatusExpired:
		return bookingModel.BookingStatusExpired
	case model.PaymentStatusFailed, model.PaymentStatusCancelled, model.PaymentStatusDenied:
		return bookingModel.BookingStatusCancelled
	case model.PaymentStatusRefunded:
		return bookingModel.BookingStatusRefunded
	}
	return bookingModel.BookingStatusPending
}
