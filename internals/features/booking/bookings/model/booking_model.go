package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
	BookingStatusRefunded  BookingStatus = "REFUNDED"
)

/* ===================== Booking ===================== */

type Booking struct {
	BookingID         uuid.UUID     `gorm:"column:booking_id;type:uuid;default:gen_random_uuid();primaryKey" json:"booking_id"`
	BookingCode       string        `gorm:"column:booking_code;type:varchar(32);not null;uniqueIndex" json:"booking_code"`
	BookingScheduleID uuid.UUID     `gorm:"column:booking_schedule_id;type:uuid;not null;index" json:"booking_schedule_id"`
	BookingStatus     BookingStatus `gorm:"column:booking_status;type:varchar(16);not null;default:'PENDING';index" json:"booking_status"`

	BookingPassengerCount int   `gorm:"column:booking_passenger_count;not null;check:booking_passenger_count > 0" json:"booking_passenger_count"`
	BookingTotalAmount    int64 `gorm:"column:booking_total_amount;not null" json:"booking_total_amount"`

	BookingContactName  string `gorm:"column:booking_contact_name;type:varchar(120)" json:"booking_contact_name"`
	BookingContactEmail string `gorm:"column:booking_contact_email;type:varchar(160)" json:"booking_contact_email"`
	BookingContactPhone string `gorm:"column:booking_contact_phone;type:varchar(32)" json:"booking_contact_phone"`

	BookingConfirmedAt        *time.Time `gorm:"column:booking_confirmed_at" json:"booking_confirmed_at,omitempty"`
	BookingCancelledAt        *time.Time `gorm:"column:booking_cancelled_at" json:"booking_cancelled_at,omitempty"`
	BookingCancellationReason *string    `gorm:"column:booking_cancellation_reason" json:"booking_cancellation_reason,omitempty"`
	// set once when the reserved seats go back to the schedule
	BookingSeatsReleasedAt *time.Time `gorm:"column:booking_seats_released_at" json:"booking_seats_released_at,omitempty"`

	BookingCreatedAt time.Time `gorm:"column:booking_created_at;autoCreateTime" json:"booking_created_at"`
	BookingUpdatedAt time.Time `gorm:"column:booking_updated_at;autoUpdateTime" json:"booking_updated_at"`
}

func (Booking) TableName() string { return "bookings" }

func (b *Booking) HasSeatsReleased() bool { return b.BookingSeatsReleasedAt != nil }

// HadTicketsIssued is true for bookings that reached confirmation.
func (b *Booking) HadTicketsIssued() bool {
	return b.BookingStatus == BookingStatusConfirmed || b.BookingStatus == BookingStatusCompleted
}

/* ===================== Passenger ===================== */

type Passenger struct {
	PassengerID        uuid.UUID `gorm:"column:passenger_id;type:uuid;default:gen_random_uuid();primaryKey" json:"passenger_id"`
	PassengerBookingID uuid.UUID `gorm:"column:passenger_booking_id;type:uuid;not null;index" json:"passenger_booking_id"`
	PassengerSeq       int       `gorm:"column:passenger_seq;not null" json:"passenger_seq"`
	PassengerFullName  string    `gorm:"column:passenger_full_name;type:varchar(120);not null" json:"passenger_full_name"`
	PassengerIDNumber  string    `gorm:"column:passenger_id_number;type:varchar(40)" json:"passenger_id_number"`

	PassengerCreatedAt time.Time `gorm:"column:passenger_created_at;autoCreateTime" json:"passenger_created_at"`
}

func (Passenger) TableName() string { return "booking_passengers" }
