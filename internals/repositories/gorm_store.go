package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
)

type GormStore struct {
	DB        *gorm.DB
	Isolation sql.IsolationLevel
}

func NewGormStore(db *gorm.DB, isolation sql.IsolationLevel) *GormStore {
	if isolation == sql.LevelDefault {
		isolation = sql.LevelReadCommitted
	}
	return &GormStore{DB: db, Isolation: isolation}
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	}, &sql.TxOptions{Isolation: s.Isolation})
}

/* =======================================================================
   Lease lock
======================================================================= */

func (s *GormStore) AcquireLock(ctx context.Context, orderID, holder string, lease time.Duration, now time.Time) (bool, error) {
	db := s.DB.WithContext(ctx)

	// opportunistic sweep, no separate janitor
	if err := db.Where("webhook_lock_expires_at < ?", now).Delete(&paymentModel.WebhookLock{}).Error; err != nil {
		helper.Logger.WithError(err).Warn("webhook lock sweep failed")
	}

	lock := paymentModel.WebhookLock{
		WebhookLockOrderID:   orderID,
		WebhookLockHolder:    holder,
		WebhookLockExpiresAt: now.Add(lease),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// row exists: take it over only when the lease ran out
	res = db.Model(&paymentModel.WebhookLock{}).
		Where("webhook_lock_order_id = ? AND webhook_lock_expires_at < ?", orderID, now).
		Updates(map[string]any{
			"webhook_lock_holder":     holder,
			"webhook_lock_expires_at": now.Add(lease),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleaseLock(ctx context.Context, orderID, holder string) error {
	return s.DB.WithContext(ctx).
		Where("webhook_lock_order_id = ? AND webhook_lock_holder = ?", orderID, holder).
		Delete(&paymentModel.WebhookLock{}).Error
}

/* =======================================================================
   Reads
======================================================================= */

func (s *GormStore) FindPaymentByOrderID(ctx context.Context, orderID string) (*paymentModel.Payment, error) {
	var p paymentModel.Payment
	if err := s.DB.WithContext(ctx).Where("payment_order_id = ?", orderID).Take(&p).Error; err != nil {
		return nil, notFound("payment", orderID, err)
	}
	return &p, nil
}

func (s *GormStore) FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*paymentModel.Payment, error) {
	var p paymentModel.Payment
	if err := s.DB.WithContext(ctx).Where("payment_booking_id = ?", bookingID).Take(&p).Error; err != nil {
		return nil, notFound("payment for booking", bookingID, err)
	}
	return &p, nil
}

func (s *GormStore) FindBooking(ctx context.Context, bookingID uuid.UUID) (*bookingModel.Booking, error) {
	var b bookingModel.Booking
	if err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).Take(&b).Error; err != nil {
		return nil, notFound("booking", bookingID, err)
	}
	return &b, nil
}

func (s *GormStore) FindSchedule(ctx context.Context, scheduleID uuid.UUID) (*bookingModel.Schedule, error) {
	var sc bookingModel.Schedule
	if err := s.DB.WithContext(ctx).Where("schedule_id = ?", scheduleID).Take(&sc).Error; err != nil {
		return nil, notFound("schedule", scheduleID, err)
	}
	return &sc, nil
}

func (s *GormStore) ListTickets(ctx context.Context, bookingID uuid.UUID) ([]ticketModel.Ticket, error) {
	var out []ticketModel.Ticket
	err := s.DB.WithContext(ctx).
		Where("ticket_booking_id = ?", bookingID).
		Order("ticket_seat_label ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) AppendAudit(ctx context.Context, entry *paymentModel.PaymentAuditLog) error {
	return s.DB.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListAudit(ctx context.Context, orderID string) ([]paymentModel.PaymentAuditLog, error) {
	var out []paymentModel.PaymentAuditLog
	err := s.DB.WithContext(ctx).
		Where("audit_order_id = ?", orderID).
		Order("audit_created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) FindStalePending(ctx context.Context, createdBefore, quietSince time.Time, limit int) ([]paymentModel.Payment, error) {
	var out []paymentModel.Payment
	err := s.DB.WithContext(ctx).
		Where("payment_status = ?", paymentModel.PaymentStatusPending).
		Where("payment_created_at < ?", createdBefore).
		Where("payment_last_webhook_at IS NULL OR payment_last_webhook_at < ?", quietSince).
		Order("payment_created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]paymentModel.Payment, error) {
	var out []paymentModel.Payment
	err := s.DB.WithContext(ctx).
		Where("payment_status = ? AND payment_expires_at < ?", paymentModel.PaymentStatusPending, now).
		Order("payment_expires_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) FindPaymentsCreatedBetween(ctx context.Context, from, to time.Time) ([]paymentModel.Payment, error) {
	var out []paymentModel.Payment
	err := s.DB.WithContext(ctx).
		Where("payment_created_at >= ? AND payment_created_at < ?", from, to).
		Order("payment_created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) FindBookingsMissingTickets(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.DB.WithContext(ctx).
		Table("bookings b").
		Select("b.booking_id").
		Joins("JOIN payments p ON p.payment_booking_id = b.booking_id AND p.payment_status = ?", paymentModel.PaymentStatusSuccess).
		Where("b.booking_status IN ?", []bookingModel.BookingStatus{bookingModel.BookingStatusConfirmed, bookingModel.BookingStatusCompleted}).
		Where("NOT EXISTS (SELECT 1 FROM tickets t WHERE t.ticket_booking_id = b.booking_id AND t.ticket_status = ?)", ticketModel.TicketStatusActive).
		Order("b.booking_confirmed_at ASC").
		Limit(limit).
		Pluck("b.booking_id", &ids).Error
	return ids, err
}

/* =======================================================================
   Event outbox
======================================================================= */

func (s *GormStore) FindUndeliveredEvents(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]paymentModel.EventOutbox, error) {
	var out []paymentModel.EventOutbox
	q := s.DB.WithContext(ctx).
		Where("outbox_delivered_at IS NULL AND outbox_created_at < ?", createdBefore)
	if maxAttempts > 0 {
		q = q.Where("outbox_attempts < ?", maxAttempts)
	}
	err := q.Order("outbox_created_at ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *GormStore) MarkEventDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.DB.WithContext(ctx).
		Model(&paymentModel.EventOutbox{}).
		Where("outbox_id = ? AND outbox_delivered_at IS NULL", id).
		Update("outbox_delivered_at", at).Error
}

func (s *GormStore) RecordEventFailure(ctx context.Context, id uuid.UUID, reason string) error {
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return s.DB.WithContext(ctx).
		Model(&paymentModel.EventOutbox{}).
		Where("outbox_id = ? AND outbox_delivered_at IS NULL", id).
		Updates(map[string]any{
			"outbox_attempts":   gorm.Expr("outbox_attempts + 1"),
			"outbox_last_error": reason,
		}).Error
}

/* =======================================================================
   Transactional view
======================================================================= */

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockPaymentByOrderID(orderID string) (*paymentModel.Payment, error) {
	var p paymentModel.Payment
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payment_order_id = ?", orderID).
		Take(&p).Error; err != nil {
		return nil, notFound("payment", orderID, err)
	}
	return &p, nil
}

func (t *gormTx) LockBooking(bookingID uuid.UUID) (*bookingModel.Booking, error) {
	var b bookingModel.Booking
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID).
		Take(&b).Error; err != nil {
		return nil, notFound("booking", bookingID, err)
	}
	return &b, nil
}

func (t *gormTx) LockSchedule(scheduleID uuid.UUID) (*bookingModel.Schedule, error) {
	var sc bookingModel.Schedule
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("schedule_id = ?", scheduleID).
		Take(&sc).Error; err != nil {
		return nil, notFound("schedule", scheduleID, err)
	}
	return &sc, nil
}

func (t *gormTx) CreateBooking(b *bookingModel.Booking, passengers []bookingModel.Passenger) error {
	if err := t.db.Create(b).Error; err != nil {
		return err
	}
	if len(passengers) == 0 {
		return nil
	}
	for i := range passengers {
		passengers[i].PassengerBookingID = b.BookingID
	}
	return t.db.Create(&passengers).Error
}

func (t *gormTx) CreatePayment(p *paymentModel.Payment) error {
	return t.db.Create(p).Error
}

func (t *gormTx) UpdatePayment(p *paymentModel.Payment, expectedVersion int64) error {
	res := t.db.Model(&paymentModel.Payment{}).
		Where("payment_id = ? AND payment_version = ?", p.PaymentID, expectedVersion).
		Select("*").
		Omit("payment_id", "payment_created_at").
		Updates(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s version %d: %w", p.PaymentOrderID, expectedVersion, helper.ErrVersionConflict)
	}
	return nil
}

func (t *gormTx) UpdateBooking(b *bookingModel.Booking) error {
	return t.db.Model(b).
		Select("*").
		Omit("booking_id", "booking_created_at").
		Updates(b).Error
}

func (t *gormTx) AdjustSeats(scheduleID uuid.UUID, delta int) error {
	res := t.db.Model(&bookingModel.Schedule{}).
		Where("schedule_id = ?", scheduleID).
		Where("schedule_available_seats + ? >= 0 AND schedule_available_seats + ? <= schedule_capacity", delta, delta).
		Update("schedule_available_seats", gorm.Expr("schedule_available_seats + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s delta %d: %w", scheduleID, delta, helper.ErrInsufficientSeats)
	}
	return nil
}

func (t *gormTx) ListPassengers(bookingID uuid.UUID) ([]bookingModel.Passenger, error) {
	var out []bookingModel.Passenger
	err := t.db.Where("passenger_booking_id = ?", bookingID).Order("passenger_seq ASC").Find(&out).Error
	return out, err
}

func (t *gormTx) CountActiveTickets(bookingID uuid.UUID) (int64, error) {
	var n int64
	err := t.db.Model(&ticketModel.Ticket{}).
		Where("ticket_booking_id = ? AND ticket_status = ?", bookingID, ticketModel.TicketStatusActive).
		Count(&n).Error
	return n, err
}

func (t *gormTx) CreateTickets(tickets []ticketModel.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return t.db.Create(&tickets).Error
}

func (t *gormTx) InvalidateTickets(bookingID uuid.UUID, reason string, at time.Time) (int64, error) {
	res := t.db.Model(&ticketModel.Ticket{}).
		Where("ticket_booking_id = ? AND ticket_status = ?", bookingID, ticketModel.TicketStatusActive).
		Updates(map[string]any{
			"ticket_status":            ticketModel.TicketStatusInvalidated,
			"ticket_invalidated_at":    at,
			"ticket_invalidate_reason": reason,
		})
	return res.RowsAffected, res.Error
}

func (t *gormTx) AppendAudit(entry *paymentModel.PaymentAuditLog) error {
	return t.db.Create(entry).Error
}

func (t *gormTx) InsertOutbox(rows []paymentModel.EventOutbox) error {
	if len(rows) == 0 {
		return nil
	}
	return t.db.Create(&rows).Error
}
