package repositories

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
)

// Skema sqlite dengan kolom yang sama seperti tabel postgres; row lock
// (FOR UPDATE) dilewati oleh dialect sqlite.
var sqliteSchema = []string{
	`CREATE TABLE schedules (
		schedule_id TEXT PRIMARY KEY,
		schedule_route_name TEXT NOT NULL,
		schedule_vessel_name TEXT,
		schedule_departure_at DATETIME NOT NULL,
		schedule_seat_price INTEGER NOT NULL,
		schedule_capacity INTEGER NOT NULL,
		schedule_available_seats INTEGER NOT NULL CHECK (schedule_available_seats >= 0),
		schedule_created_at DATETIME,
		schedule_updated_at DATETIME
	)`,
	`CREATE TABLE bookings (
		booking_id TEXT PRIMARY KEY,
		booking_code TEXT NOT NULL UNIQUE,
		booking_schedule_id TEXT NOT NULL,
		booking_status TEXT NOT NULL DEFAULT 'PENDING',
		booking_passenger_count INTEGER NOT NULL,
		booking_total_amount INTEGER NOT NULL,
		booking_contact_name TEXT,
		booking_contact_email TEXT,
		booking_contact_phone TEXT,
		booking_confirmed_at DATETIME,
		booking_cancelled_at DATETIME,
		booking_cancellation_reason TEXT,
		booking_seats_released_at DATETIME,
		booking_created_at DATETIME,
		booking_updated_at DATETIME
	)`,
	`CREATE TABLE booking_passengers (
		passenger_id TEXT PRIMARY KEY,
		passenger_booking_id TEXT NOT NULL,
		passenger_seq INTEGER NOT NULL,
		passenger_full_name TEXT NOT NULL,
		passenger_id_number TEXT,
		passenger_created_at DATETIME
	)`,
	`CREATE TABLE payments (
		payment_id TEXT PRIMARY KEY,
		payment_booking_id TEXT NOT NULL UNIQUE,
		payment_order_id TEXT NOT NULL UNIQUE,
		payment_gross_amount INTEGER NOT NULL,
		payment_currency TEXT NOT NULL DEFAULT 'IDR',
		payment_status TEXT NOT NULL DEFAULT 'PENDING',
		payment_gateway_provider TEXT NOT NULL DEFAULT 'midtrans',
		payment_gateway_transaction_id TEXT,
		payment_gateway_status TEXT,
		payment_gateway_method TEXT,
		payment_gateway_time DATETIME,
		payment_snap_token TEXT,
		payment_checkout_url TEXT,
		payment_webhook_count INTEGER NOT NULL DEFAULT 0,
		payment_last_webhook_at DATETIME,
		payment_expires_at DATETIME NOT NULL,
		payment_paid_at DATETIME,
		payment_version INTEGER NOT NULL DEFAULT 1,
		payment_processed_keys TEXT NOT NULL DEFAULT '[]',
		payment_created_at DATETIME,
		payment_updated_at DATETIME
	)`,
	`CREATE TABLE tickets (
		ticket_id TEXT PRIMARY KEY,
		ticket_booking_id TEXT NOT NULL,
		ticket_passenger_id TEXT NOT NULL UNIQUE,
		ticket_code TEXT NOT NULL UNIQUE,
		ticket_seat_label TEXT NOT NULL,
		ticket_qr_payload TEXT NOT NULL,
		ticket_status TEXT NOT NULL DEFAULT 'active',
		ticket_invalidated_at DATETIME,
		ticket_invalidate_reason TEXT,
		ticket_issued_at DATETIME
	)`,
	`CREATE TABLE webhook_locks (
		webhook_lock_order_id TEXT PRIMARY KEY,
		webhook_lock_holder TEXT NOT NULL,
		webhook_lock_expires_at DATETIME NOT NULL,
		webhook_lock_created_at DATETIME
	)`,
	`CREATE TABLE event_outbox (
		outbox_id TEXT PRIMARY KEY,
		outbox_name TEXT NOT NULL,
		outbox_order_id TEXT NOT NULL,
		outbox_payload TEXT NOT NULL,
		outbox_attempts INTEGER NOT NULL DEFAULT 0,
		outbox_last_error TEXT,
		outbox_created_at DATETIME NOT NULL,
		outbox_delivered_at DATETIME
	)`,
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	for _, ddl := range sqliteSchema {
		require.NoError(t, db.Exec(ddl).Error)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	// LevelDefault: sqlite tidak mengenal READ COMMITTED
	return &GormStore{DB: db}
}

var storeNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedSchedule(t *testing.T, s *GormStore, capacity, available int) uuid.UUID {
	t.Helper()
	sc := bookingModel.Schedule{
		ScheduleID:             uuid.New(),
		ScheduleRouteName:      "Merak - Bakauheni",
		ScheduleDepartureAt:    storeNow.Add(48 * time.Hour),
		ScheduleSeatPrice:      75000,
		ScheduleCapacity:       capacity,
		ScheduleAvailableSeats: available,
	}
	require.NoError(t, s.DB.Create(&sc).Error)
	return sc.ScheduleID
}

type seededOrder struct {
	BookingID uuid.UUID
	OrderID   string
}

func seedOrder(t *testing.T, s *GormStore, scheduleID uuid.UUID, bs bookingModel.BookingStatus, ps paymentModel.PaymentStatus, confirmedAt *time.Time) seededOrder {
	t.Helper()
	b := bookingModel.Booking{
		BookingID:             uuid.New(),
		BookingCode:           "KPL-" + strings.ToUpper(uuid.NewString()[:8]),
		BookingScheduleID:     scheduleID,
		BookingStatus:         bs,
		BookingPassengerCount: 1,
		BookingTotalAmount:    75000,
		BookingConfirmedAt:    confirmedAt,
	}
	require.NoError(t, s.DB.Create(&b).Error)

	p := paymentModel.Payment{
		PaymentID:            uuid.New(),
		PaymentBookingID:     b.BookingID,
		PaymentOrderID:       "ORD-" + b.BookingID.String()[:8],
		PaymentGrossAmount:   75000,
		PaymentCurrency:      "IDR",
		PaymentStatus:        ps,
		PaymentExpiresAt:     storeNow.Add(24 * time.Hour),
		PaymentVersion:       1,
		PaymentProcessedKeys: datatypes.JSON("[]"),
	}
	require.NoError(t, s.DB.Create(&p).Error)
	return seededOrder{BookingID: b.BookingID, OrderID: p.PaymentOrderID}
}

func seedTicket(t *testing.T, s *GormStore, bookingID uuid.UUID, status ticketModel.TicketStatus) {
	t.Helper()
	tk := ticketModel.Ticket{
		TicketID:          uuid.New(),
		TicketBookingID:   bookingID,
		TicketPassengerID: uuid.New(),
		TicketCode:        "TKT-" + uuid.NewString()[:8],
		TicketSeatLabel:   "A1",
		TicketQRPayload:   "qr",
		TicketStatus:      status,
	}
	require.NoError(t, s.DB.Create(&tk).Error)
}

func TestGormStoreLockLeaseTakeover(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	lease := 30 * time.Second

	ok, err := s.AcquireLock(ctx, "ORD-1", "worker-a", lease, storeNow)
	require.NoError(t, err)
	assert.True(t, ok)

	// lease masih hidup
	ok, err = s.AcquireLock(ctx, "ORD-1", "worker-b", lease, storeNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// lease habis, worker-b mengambil alih
	ok, err = s.AcquireLock(ctx, "ORD-1", "worker-b", lease, storeNow.Add(lease+time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	// release oleh holder lama tidak menghapus lock milik worker-b
	require.NoError(t, s.ReleaseLock(ctx, "ORD-1", "worker-a"))
	ok, err = s.AcquireLock(ctx, "ORD-1", "worker-c", lease, storeNow.Add(lease+2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "ORD-1", "worker-b"))
	ok, err = s.AcquireLock(ctx, "ORD-1", "worker-c", lease, storeNow.Add(lease+3*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	// order lain tidak terpengaruh
	ok, err = s.AcquireLock(ctx, "ORD-2", "worker-a", lease, storeNow.Add(lease+3*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGormStoreUpdatePaymentVersionConflict(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	order := seedOrder(t, s, seedSchedule(t, s, 10, 9), bookingModel.BookingStatusPending, paymentModel.PaymentStatusPending, nil)

	var stale paymentModel.Payment
	err := s.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockPaymentByOrderID(order.OrderID)
		if err != nil {
			return err
		}
		stale = *p
		p.PaymentStatus = paymentModel.PaymentStatusSuccess
		p.PaymentVersion = 2
		return tx.UpdatePayment(p, 1)
	})
	require.NoError(t, err)

	got, err := s.FindPaymentByOrderID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, paymentModel.PaymentStatusSuccess, got.PaymentStatus)
	assert.Equal(t, int64(2), got.PaymentVersion)

	err = s.InTx(ctx, func(tx Tx) error {
		stale.PaymentStatus = paymentModel.PaymentStatusExpired
		stale.PaymentVersion = 2
		return tx.UpdatePayment(&stale, 1)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, helper.ErrVersionConflict)
	assert.True(t, IsRetryableDBError(err))

	got, err = s.FindPaymentByOrderID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, paymentModel.PaymentStatusSuccess, got.PaymentStatus)
}

func TestGormStoreAdjustSeatsStaysWithinBounds(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scheduleID := seedSchedule(t, s, 10, 2)

	seats := func() int {
		sc, err := s.FindSchedule(ctx, scheduleID)
		require.NoError(t, err)
		return sc.ScheduleAvailableSeats
	}
	adjust := func(delta int) error {
		return s.InTx(ctx, func(tx Tx) error { return tx.AdjustSeats(scheduleID, delta) })
	}

	err := adjust(-3)
	assert.ErrorIs(t, err, helper.ErrInsufficientSeats)
	assert.Equal(t, 2, seats())

	require.NoError(t, adjust(-2))
	assert.Equal(t, 0, seats())

	err = adjust(11)
	assert.ErrorIs(t, err, helper.ErrInsufficientSeats)
	assert.Equal(t, 0, seats())

	require.NoError(t, adjust(10))
	assert.Equal(t, 10, seats())

	err = s.InTx(ctx, func(tx Tx) error { return tx.AdjustSeats(uuid.New(), -1) })
	assert.ErrorIs(t, err, helper.ErrInsufficientSeats)
}

func TestGormStoreInTxRollsBackOnError(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scheduleID := seedSchedule(t, s, 10, 10)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.AdjustSeats(scheduleID, -4); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	sc, err := s.FindSchedule(ctx, scheduleID)
	require.NoError(t, err)
	assert.Equal(t, 10, sc.ScheduleAvailableSeats)
}

func TestGormStoreFindBookingsMissingTickets(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scheduleID := seedSchedule(t, s, 40, 30)
	at := func(min int) *time.Time {
		v := storeNow.Add(time.Duration(min) * time.Minute)
		return &v
	}

	noTickets := seedOrder(t, s, scheduleID, bookingModel.BookingStatusConfirmed, paymentModel.PaymentStatusSuccess, at(1))

	issued := seedOrder(t, s, scheduleID, bookingModel.BookingStatusConfirmed, paymentModel.PaymentStatusSuccess, at(2))
	seedTicket(t, s, issued.BookingID, ticketModel.TicketStatusActive)

	onlyInvalidated := seedOrder(t, s, scheduleID, bookingModel.BookingStatusConfirmed, paymentModel.PaymentStatusSuccess, at(3))
	seedTicket(t, s, onlyInvalidated.BookingID, ticketModel.TicketStatusInvalidated)

	completed := seedOrder(t, s, scheduleID, bookingModel.BookingStatusCompleted, paymentModel.PaymentStatusSuccess, at(4))

	// belum dibayar / sudah dibatalkan tidak ikut
	seedOrder(t, s, scheduleID, bookingModel.BookingStatusPending, paymentModel.PaymentStatusPending, nil)
	seedOrder(t, s, scheduleID, bookingModel.BookingStatusCancelled, paymentModel.PaymentStatusRefunded, at(0))

	ids, err := s.FindBookingsMissingTickets(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{noTickets.BookingID, onlyInvalidated.BookingID, completed.BookingID}, ids)

	ids, err = s.FindBookingsMissingTickets(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{noTickets.BookingID, onlyInvalidated.BookingID}, ids)
}

func TestGormStoreOutboxLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	old := paymentModel.EventOutbox{
		OutboxID:        uuid.New(),
		OutboxName:      "payment.succeeded",
		OutboxOrderID:   "ORD-1",
		OutboxPayload:   datatypes.JSON(`{"name":"payment.succeeded"}`),
		OutboxCreatedAt: storeNow.Add(-10 * time.Minute),
	}
	fresh := paymentModel.EventOutbox{
		OutboxID:        uuid.New(),
		OutboxName:      "booking.confirmed",
		OutboxOrderID:   "ORD-1",
		OutboxPayload:   datatypes.JSON(`{"name":"booking.confirmed"}`),
		OutboxCreatedAt: storeNow,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.InsertOutbox([]paymentModel.EventOutbox{old, fresh})
	}))

	cutoff := storeNow.Add(-time.Minute)
	rows, err := s.FindUndeliveredEvents(ctx, cutoff, 3, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.OutboxID, rows[0].OutboxID)
	assert.Equal(t, 0, rows[0].OutboxAttempts)
	assert.JSONEq(t, `{"name":"payment.succeeded"}`, string(rows[0].OutboxPayload))

	long := strings.Repeat("x", 600)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordEventFailure(ctx, old.OutboxID, long))
	}

	rows, err = s.FindUndeliveredEvents(ctx, cutoff, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// tanpa batas attempts baris yang gagal tetap terlihat
	rows, err = s.FindUndeliveredEvents(ctx, cutoff, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].OutboxAttempts)
	require.NotNil(t, rows[0].OutboxLastError)
	assert.Len(t, *rows[0].OutboxLastError, 500)
	assert.False(t, rows[0].Delivered())

	require.NoError(t, s.MarkEventDelivered(ctx, old.OutboxID, storeNow))
	rows, err = s.FindUndeliveredEvents(ctx, storeNow.Add(time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, fresh.OutboxID, rows[0].OutboxID)

	// gagal setelah delivered tidak menambah attempts
	require.NoError(t, s.RecordEventFailure(ctx, old.OutboxID, "late"))
	var stored paymentModel.EventOutbox
	require.NoError(t, s.DB.Where("outbox_id = ?", old.OutboxID).Take(&stored).Error)
	assert.Equal(t, 3, stored.OutboxAttempts)
	assert.True(t, stored.Delivered())
}

func TestGormStoreFindStalePendingAndExpired(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scheduleID := seedSchedule(t, s, 40, 30)

	quiet := seedOrder(t, s, scheduleID, bookingModel.BookingStatusPending, paymentModel.PaymentStatusPending, nil)
	recent := seedOrder(t, s, scheduleID, bookingModel.BookingStatusPending, paymentModel.PaymentStatusPending, nil)
	paid := seedOrder(t, s, scheduleID, bookingModel.BookingStatusConfirmed, paymentModel.PaymentStatusSuccess, &storeNow)

	created := storeNow.Add(-2 * time.Hour)
	webhook := storeNow.Add(-time.Minute)
	require.NoError(t, s.DB.Model(&paymentModel.Payment{}).
		Where("payment_order_id IN ?", []string{quiet.OrderID, recent.OrderID, paid.OrderID}).
		Updates(map[string]any{"payment_created_at": created, "payment_expires_at": storeNow.Add(-time.Minute)}).Error)
	require.NoError(t, s.DB.Model(&paymentModel.Payment{}).
		Where("payment_order_id = ?", recent.OrderID).
		Update("payment_last_webhook_at", webhook).Error)

	stale, err := s.FindStalePending(ctx, storeNow.Add(-30*time.Minute), storeNow.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, quiet.OrderID, stale[0].PaymentOrderID)

	expired, err := s.FindExpiredPending(ctx, storeNow, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
	for _, p := range expired {
		assert.Equal(t, paymentModel.PaymentStatusPending, p.PaymentStatus)
	}

	_, err = s.FindPaymentByOrderID(ctx, "ORD-missing")
	assert.ErrorIs(t, err, helper.ErrNotFound)
}
