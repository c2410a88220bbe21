// file: internals/features/booking/tickets/service/issuer.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/repositories"
)

var ErrBookingNotConfirmed = errors.New("booking not confirmed")

/* =======================================================================
   Issuer
======================================================================= */

// Issuer creates one ticket per passenger for a confirmed booking. It is
// idempotent: a booking that already has active tickets is left alone.
type Issuer struct {
	store  repositories.Store
	secret []byte
	now    func() time.Time
}

func NewIssuer(store repositories.Store, signingSecret string) *Issuer {
	return &Issuer{store: store, secret: []byte(signingSecret), now: time.Now}
}

// Issue returns the number of tickets created (0 when they already existed).
func (i *Issuer) Issue(ctx context.Context, bookingID uuid.UUID) (int, error) {
	if len(i.secret) == 0 {
		return 0, fmt.Errorf("ticket signing secret not configured: %w", helper.ErrPermanentFailure)
	}

	created := 0
	err := i.store.InTx(ctx, func(tx repositories.Tx) error {
		b, err := tx.LockBooking(bookingID)
		if err != nil {
			return err
		}
		if !b.HadTicketsIssued() {
			return fmt.Errorf("booking %s is %s: %w", b.BookingCode, b.BookingStatus, ErrBookingNotConfirmed)
		}

		n, err := tx.CountActiveTickets(bookingID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		passengers, err := tx.ListPassengers(bookingID)
		if err != nil {
			return err
		}
		if len(passengers) == 0 {
			return fmt.Errorf("booking %s has no passengers: %w", b.BookingCode, helper.ErrPermanentFailure)
		}

		now := i.now()
		tickets := make([]ticketModel.Ticket, 0, len(passengers))
		for _, p := range passengers {
			t, err := i.build(b, p, now)
			if err != nil {
				return err
			}
			tickets = append(tickets, t)
		}
		if err := tx.CreateTickets(tickets); err != nil {
			return err
		}
		created = len(tickets)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		helper.Logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"tickets":    created,
		}).Info("tickets issued")
	}
	return created, nil
}

func (i *Issuer) build(b *bookingModel.Booking, p bookingModel.Passenger, now time.Time) (ticketModel.Ticket, error) {
	code := newTicketCode()
	qr, err := SignTicket(i.secret, TicketClaims{
		TicketCode:  code,
		BookingCode: b.BookingCode,
		ScheduleID:  b.BookingScheduleID.String(),
		PassengerID: p.PassengerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.PassengerID.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return ticketModel.Ticket{}, err
	}
	return ticketModel.Ticket{
		TicketID:          uuid.New(),
		TicketBookingID:   b.BookingID,
		TicketPassengerID: p.PassengerID,
		TicketCode:        code,
		TicketSeatLabel:   SeatLabel(p.PassengerSeq),
		TicketQRPayload:   qr,
		TicketStatus:      ticketModel.TicketStatusActive,
		TicketIssuedAt:    now,
	}, nil
}

func newTicketCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TKT-" + strings.ToUpper(raw[:12])
}

// SeatLabel assigns free-seating labels per booking: A01..A10, B01..
func SeatLabel(seq int) string {
	if seq < 1 {
		seq = 1
	}
	row := rune('A' + (seq-1)/10)
	return fmt.Sprintf("%c%02d", row, (seq-1)%10+1)
}

/* =======================================================================
   Signed QR payload
======================================================================= */

type TicketClaims struct {
	TicketCode  string `json:"tc"`
	BookingCode string `json:"bc"`
	ScheduleID  string `json:"sid"`
	PassengerID string `json:"pid"`
	jwt.RegisteredClaims
}

func SignTicket(secret []byte, claims TicketClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// VerifyTicket parses a QR payload and checks its HS256 signature.
func VerifyTicket(secret []byte, raw string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid ticket token")
	}
	return claims, nil
}
