// file: internals/features/payment/payments/dto/booking_dto.go
package dto

import (
	"time"

	"github.com/google/uuid"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	model "kapalku_backend/internals/features/payment/payments/model"
)

/* =======================================================================
   Create booking (POST /api/bookings)
======================================================================= */

type PassengerInput struct {
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	IDNumber string `json:"id_number" validate:"omitempty,max=40"`
}

type CustomerInput struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email,max=160"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type CreateBookingRequest struct {
	ScheduleID uuid.UUID        `json:"schedule_id" validate:"required"`
	Passengers []PassengerInput `json:"passengers" validate:"required,min=1,max=20,dive"`
	Customer   CustomerInput    `json:"customer" validate:"required"`
}

type CreateBookingResponse struct {
	BookingID   uuid.UUID                  `json:"booking_id"`
	BookingCode string                     `json:"booking_code"`
	OrderID     string                     `json:"order_id"`
	Status      bookingModel.BookingStatus `json:"booking_status"`
	TotalAmount int64                      `json:"total_amount"`
	SnapToken   string                     `json:"snap_token"`
	RedirectURL string                     `json:"redirect_url"`
	ExpiresAt   time.Time                  `json:"expires_at"`
}

/* =======================================================================
   Gateway charge (what the creation saga asks Midtrans for)
======================================================================= */

type GatewayCharge struct {
	OrderID     string
	GrossAmount int64
	Customer    CustomerInput
	Items       []GatewayItem
	ExpiryHours int
}

type GatewayItem struct {
	ID    string
	Name  string
	Price int64
	Qty   int32
}

type GatewayCheckout struct {
	Token       string
	RedirectURL string
}

/* =======================================================================
   Read models
======================================================================= */

type PaymentStatusResponse struct {
	OrderID        string                     `json:"order_id"`
	PaymentStatus  model.PaymentStatus        `json:"payment_status"`
	GrossAmount    int64                      `json:"gross_amount"`
	GatewayStatus  *string                    `json:"gateway_status,omitempty"`
	GatewayMethod  *string                    `json:"gateway_method,omitempty"`
	WebhookCount   int                        `json:"webhook_count"`
	LastWebhookAt  *time.Time                 `json:"last_webhook_at,omitempty"`
	ExpiresAt      time.Time                  `json:"expires_at"`
	PaidAt         *time.Time                 `json:"paid_at,omitempty"`
	BookingID      uuid.UUID                  `json:"booking_id"`
	BookingCode    string                     `json:"booking_code"`
	BookingStatus  bookingModel.BookingStatus `json:"booking_status"`
	PassengerCount int                        `json:"passenger_count"`
	Tickets        []TicketResponse           `json:"tickets"`
}

type TicketResponse struct {
	TicketCode  string                   `json:"ticket_code"`
	SeatLabel   string                   `json:"seat_label"`
	Status      ticketModel.TicketStatus `json:"status"`
	QRPayload   string                   `json:"qr_payload,omitempty"`
	PassengerID uuid.UUID                `json:"passenger_id"`
}

func FromModels(p *model.Payment, b *bookingModel.Booking, tickets []ticketModel.Ticket) PaymentStatusResponse {
	out := PaymentStatusResponse{
		OrderID:        p.PaymentOrderID,
		PaymentStatus:  p.PaymentStatus,
		GrossAmount:    p.PaymentGrossAmount,
		GatewayStatus:  p.PaymentGatewayStatus,
		GatewayMethod:  p.PaymentGatewayMethod,
		WebhookCount:   p.PaymentWebhookCount,
		LastWebhookAt:  p.PaymentLastWebhookAt,
		ExpiresAt:      p.PaymentExpiresAt,
		PaidAt:         p.PaymentPaidAt,
		BookingID:      b.BookingID,
		BookingCode:    b.BookingCode,
		BookingStatus:  b.BookingStatus,
		PassengerCount: b.BookingPassengerCount,
		Tickets:        make([]TicketResponse, 0, len(tickets)),
	}
	for _, t := range tickets {
		tr := TicketResponse{
			TicketCode:  t.TicketCode,
			SeatLabel:   t.TicketSeatLabel,
			Status:      t.TicketStatus,
			PassengerID: t.TicketPassengerID,
		}
		if t.TicketStatus == ticketModel.TicketStatusActive {
			tr.QRPayload = t.TicketQRPayload
		}
		out.Tickets = append(out.Tickets, tr)
	}
	return out
}
