// file: internals/features/payment/payments/service/booking_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
	"kapalku_backend/internals/repositories"
)

const DefaultPaymentExpiry = 24 * time.Hour

// BookingService owns the creation flow and the read side of a payment.
type BookingService struct {
	store   repositories.Store
	gateway Gateway
	lock    *WebhookLock
	dbRetry resilience.RetryPolicy
	expiry  time.Duration
	now     func() time.Time
}

func NewBookingService(store repositories.Store, gateway Gateway, dbRetry resilience.RetryPolicy, expiry time.Duration) *BookingService {
	if expiry <= 0 {
		expiry = DefaultPaymentExpiry
	}
	if dbRetry.MaxAttempts == 0 {
		dbRetry = repositories.DBRetryPolicy(3)
	}
	return &BookingService{
		store:   store,
		gateway: gateway,
		lock:    NewWebhookLock(store, DefaultLockLease, 2*time.Second),
		dbRetry: dbRetry,
		expiry:  expiry,
		now:     time.Now,
	}
}

// withOrderLock runs fn holding the same per-order lease as the webhook path.
func (s *BookingService) withOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	release, err := s.lock.Acquire(ctx, orderID)
	if err != nil {
		return err
	}
	defer release()
	return s.dbRetry.Do(ctx, fn)
}

func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

/* =======================================================================
   Create: reserve → gateway → persist token
======================================================================= */

func (s *BookingService) Create(ctx context.Context, req dto.CreateBookingRequest) (*dto.CreateBookingResponse, error) {
	var (
		booking  bookingModel.Booking
		payment  model.Payment
		checkout *dto.GatewayCheckout
	)
	seats := len(req.Passengers)

	saga := &Saga{
		Name: "create_booking",
		Steps: []SagaStep{
			{
				Name: "reserve",
				Execute: func(ctx context.Context) error {
					return s.dbRetry.Do(ctx, func(ctx context.Context) error {
						b, p, err := s.reserve(ctx, req)
						if err != nil {
							return err
						}
						booking, payment = *b, *p
						return nil
					})
				},
				Compensate: func(ctx context.Context) error {
					return s.withOrderLock(ctx, payment.PaymentOrderID, func(ctx context.Context) error {
						return s.cancelReservation(ctx, payment.PaymentOrderID, "gateway checkout failed")
					})
				},
			},
			{
				Name: "gateway",
				Execute: func(ctx context.Context) error {
					out, err := s.gateway.CreateTransaction(ctx, dto.GatewayCharge{
						OrderID:     payment.PaymentOrderID,
						GrossAmount: payment.PaymentGrossAmount,
						Customer:    req.Customer,
						Items: []dto.GatewayItem{{
							ID:    booking.BookingCode,
							Name:  fmt.Sprintf("Tiket kapal x%d", seats),
							Price: payment.PaymentGrossAmount / int64(seats),
							Qty:   int32(seats),
						}},
						ExpiryHours: int(s.expiry / time.Hour),
					})
					if err != nil {
						return err
					}
					checkout = out
					return nil
				},
				Compensate: func(ctx context.Context) error {
					return s.gateway.Cancel(ctx, payment.PaymentOrderID)
				},
			},
			{
				Name: "persist_checkout",
				Execute: func(ctx context.Context) error {
					return s.withOrderLock(ctx, payment.PaymentOrderID, func(ctx context.Context) error {
						return s.persistCheckout(ctx, payment.PaymentOrderID, checkout)
					})
				},
			},
		},
	}

	if err := saga.Run(ctx); err != nil {
		helper.Logger.WithError(err).WithFields(logrus.Fields{
			"schedule_id": req.ScheduleID,
			"step":        StepOf(err),
		}).Warn("booking creation failed")
		return nil, err
	}

	helper.Logger.WithFields(logrus.Fields{
		"booking_id": booking.BookingID,
		"order_id":   payment.PaymentOrderID,
		"seats":      seats,
	}).Info("booking created")

	return &dto.CreateBookingResponse{
		BookingID:   booking.BookingID,
		BookingCode: booking.BookingCode,
		OrderID:     payment.PaymentOrderID,
		Status:      booking.BookingStatus,
		TotalAmount: booking.BookingTotalAmount,
		SnapToken:   checkout.Token,
		RedirectURL: checkout.RedirectURL,
		ExpiresAt:   payment.PaymentExpiresAt,
	}, nil
}

func (s *BookingService) reserve(ctx context.Context, req dto.CreateBookingRequest) (*bookingModel.Booking, *model.Payment, error) {
	now := s.now()
	seats := len(req.Passengers)

	var b *bookingModel.Booking
	var p *model.Payment
	err := s.store.InTx(ctx, func(tx repositories.Tx) error {
		sc, err := tx.LockSchedule(req.ScheduleID)
		if err != nil {
			return err
		}
		if !sc.ScheduleDepartureAt.After(now) {
			return helper.NewAppError(fiber.StatusConflict, "SCHEDULE_DEPARTED",
				"jadwal sudah berangkat",
				fmt.Errorf("schedule %s departed at %s: %w", sc.ScheduleID, sc.ScheduleDepartureAt.Format(time.RFC3339), helper.ErrPermanentFailure))
		}
		if sc.ScheduleAvailableSeats < seats {
			return helper.NewAppError(fiber.StatusConflict, "INSUFFICIENT_SEATS",
				fmt.Sprintf("kursi tersisa %d, dibutuhkan %d", sc.ScheduleAvailableSeats, seats),
				fmt.Errorf("schedule %s has %d seats left, need %d: %w",
					sc.ScheduleID, sc.ScheduleAvailableSeats, seats, helper.ErrInsufficientSeats))
		}
		if err := tx.AdjustSeats(sc.ScheduleID, -seats); err != nil {
			return err
		}

		amount := sc.ScheduleSeatPrice * int64(seats)
		b = &bookingModel.Booking{
			BookingID:             uuid.New(),
			BookingCode:           NewBookingCode(now),
			BookingScheduleID:     sc.ScheduleID,
			BookingStatus:         bookingModel.BookingStatusPending,
			BookingPassengerCount: seats,
			BookingTotalAmount:    amount,
			BookingContactName:    strings.TrimSpace(req.Customer.Name),
			BookingContactEmail:   strings.ToLower(strings.TrimSpace(req.Customer.Email)),
			BookingContactPhone:   strings.TrimSpace(req.Customer.Phone),
		}
		passengers := make([]bookingModel.Passenger, 0, seats)
		for i, in := range req.Passengers {
			passengers = append(passengers, bookingModel.Passenger{
				PassengerID:       uuid.New(),
				PassengerSeq:      i + 1,
				PassengerFullName: strings.TrimSpace(in.FullName),
				PassengerIDNumber: strings.TrimSpace(in.IDNumber),
			})
		}
		if err := tx.CreateBooking(b, passengers); err != nil {
			return err
		}

		p = &model.Payment{
			PaymentID:              uuid.New(),
			PaymentBookingID:       b.BookingID,
			PaymentOrderID:         OrderIDFor(b.BookingCode, 1),
			PaymentGrossAmount:     amount,
			PaymentCurrency:        "IDR",
			PaymentStatus:          model.PaymentStatusPending,
			PaymentGatewayProvider: model.GatewayProviderMidtrans,
			PaymentExpiresAt:       now.Add(s.expiry),
			PaymentVersion:         1,
			PaymentProcessedKeys:   []byte("[]"),
			PaymentCreatedAt:       now,
		}
		if err := tx.CreatePayment(p); err != nil {
			return err
		}

		pid := p.PaymentID
		return tx.AppendAudit(&model.PaymentAuditLog{
			AuditPaymentID: &pid,
			AuditOrderID:   p.PaymentOrderID,
			AuditNewStatus: model.StatusPtr(model.PaymentStatusPending),
			AuditAction:    "create",
			AuditOutcome:   model.AuditOutcomeApplied,
			AuditActor:     model.ActorSystem,
			AuditCreatedAt: now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

// cancelReservation gives the seats back and closes a PENDING payment.
func (s *BookingService) cancelReservation(ctx context.Context, orderID, reason string) error {
	now := s.now()
	return s.store.InTx(ctx, func(tx repositories.Tx) error {
		p, err := tx.LockPaymentByOrderID(orderID)
		if err != nil {
			return err
		}
		if p.PaymentStatus != model.PaymentStatusPending {
			return nil
		}
		b, err := tx.LockBooking(p.PaymentBookingID)
		if err != nil {
			return err
		}

		expected := p.PaymentVersion
		p.PaymentStatus = model.PaymentStatusCancelled
		p.PaymentVersion = expected + 1
		if err := tx.UpdatePayment(p, expected); err != nil {
			return err
		}

		b.BookingStatus = bookingModel.BookingStatusCancelled
		b.BookingCancelledAt = &now
		b.BookingCancellationReason = model.StringPtr(reason)
		if !b.HasSeatsReleased() {
			if err := tx.AdjustSeats(b.BookingScheduleID, b.BookingPassengerCount); err != nil {
				return err
			}
			b.BookingSeatsReleasedAt = &now
		}
		if err := tx.UpdateBooking(b); err != nil {
			return err
		}

		pid := p.PaymentID
		return tx.AppendAudit(&model.PaymentAuditLog{
			AuditPaymentID:  &pid,
			AuditOrderID:    orderID,
			AuditPrevStatus: model.StatusPtr(model.PaymentStatusPending),
			AuditNewStatus:  model.StatusPtr(model.PaymentStatusCancelled),
			AuditAction:     "saga_compensate",
			AuditOutcome:    model.AuditOutcomeApplied,
			AuditReason:     model.StringPtr(reason),
			AuditActor:      model.ActorSystem,
			AuditCreatedAt:  now,
		})
	})
}

func (s *BookingService) persistCheckout(ctx context.Context, orderID string, checkout *dto.GatewayCheckout) error {
	return s.store.InTx(ctx, func(tx repositories.Tx) error {
		p, err := tx.LockPaymentByOrderID(orderID)
		if err != nil {
			return err
		}
		expected := p.PaymentVersion
		p.PaymentSnapToken = model.StringPtr(checkout.Token)
		p.PaymentCheckoutURL = model.StringPtr(checkout.RedirectURL)
		p.PaymentVersion = expected + 1
		return tx.UpdatePayment(p, expected)
	})
}

/* =======================================================================
   Read side
======================================================================= */

func (s *BookingService) GetPayment(ctx context.Context, orderID string) (*dto.PaymentStatusResponse, error) {
	p, err := s.store.FindPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.FindBooking(ctx, p.PaymentBookingID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, b.BookingID)
	if err != nil {
		return nil, err
	}
	out := dto.FromModels(p, b, tickets)
	return &out, nil
}

func (s *BookingService) AuditTrail(ctx context.Context, orderID string) ([]model.PaymentAuditLog, error) {
	if _, err := s.store.FindPaymentByOrderID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, orderID)
}

/* =======================================================================
   Codes
======================================================================= */

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBookingCode → BK-YYYYMMDD-XXXXXX
func NewBookingCode(now time.Time) string {
	id := uuid.New()
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteByte(codeAlphabet[int(id[i])%len(codeAlphabet)])
	}
	return fmt.Sprintf("BK-%s-%s", now.Format("20060102"), sb.String())
}

func OrderIDFor(bookingCode string, attempt int) string {
	return fmt.Sprintf("ORD-%s-%d", bookingCode, attempt)
}
