package model

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketStatusActive      TicketStatus = "active"
	TicketStatusInvalidated TicketStatus = "invalidated"
)

// Ticket is issued once per passenger after the booking is confirmed.
type Ticket struct {
	TicketID          uuid.UUID    `gorm:"column:ticket_id;type:uuid;default:gen_random_uuid();primaryKey" json:"ticket_id"`
	TicketBookingID   uuid.UUID    `gorm:"column:ticket_booking_id;type:uuid;not null;index" json:"ticket_booking_id"`
	TicketPassengerID uuid.UUID    `gorm:"column:ticket_passenger_id;type:uuid;not null;uniqueIndex" json:"ticket_passenger_id"`
	TicketCode        string       `gorm:"column:ticket_code;type:varchar(40);not null;uniqueIndex" json:"ticket_code"`
	TicketSeatLabel   string       `gorm:"column:ticket_seat_label;type:varchar(16);not null" json:"ticket_seat_label"`
	TicketQRPayload   string       `gorm:"column:ticket_qr_payload;type:text;not null" json:"ticket_qr_payload"`
	TicketStatus      TicketStatus `gorm:"column:ticket_status;type:varchar(16);not null;default:'active'" json:"ticket_status"`

	TicketInvalidatedAt    *time.Time `gorm:"column:ticket_invalidated_at" json:"ticket_invalidated_at,omitempty"`
	TicketInvalidateReason *string    `gorm:"column:ticket_invalidate_reason" json:"ticket_invalidate_reason,omitempty"`

	TicketIssuedAt time.Time `gorm:"column:ticket_issued_at;autoCreateTime" json:"ticket_issued_at"`
}

func (Ticket) TableName() string { return "tickets" }
