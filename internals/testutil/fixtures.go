package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
)

// PendingBooking is a seeded booking in the payment step: seats already
// deducted, payment PENDING.
type PendingBooking struct {
	ScheduleID uuid.UUID
	BookingID  uuid.UUID
	PaymentID  uuid.UUID
	OrderID    string
	Amount     int64
	Passengers int
	// seats available before the booking reserved its passengers
	SeatsBefore int
}

type SeedOptions struct {
	Capacity    int
	Available   int // before reservation; defaults to Capacity
	Passengers  int
	SeatPrice   int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastWebhook *time.Time
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.Capacity == 0 {
		o.Capacity = 40
	}
	if o.Available == 0 {
		o.Available = o.Capacity
	}
	if o.Passengers == 0 {
		o.Passengers = 2
	}
	if o.SeatPrice == 0 {
		o.SeatPrice = 75000
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.ExpiresAt.IsZero() {
		o.ExpiresAt = o.CreatedAt.Add(24 * time.Hour)
	}
	return o
}

// SeedPendingBooking writes a schedule, a PENDING booking with passengers and
// a PENDING payment, as the creation flow would leave them.
func (m *MemStore) SeedPendingBooking(opts SeedOptions) PendingBooking {
	opts = opts.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	sc := bookingModel.Schedule{
		ScheduleID:             uuid.New(),
		ScheduleRouteName:      "Ketapang - Gilimanuk",
		ScheduleVesselName:     "KMP Nusa Bahari",
		ScheduleDepartureAt:    opts.CreatedAt.Add(72 * time.Hour),
		ScheduleSeatPrice:      opts.SeatPrice,
		ScheduleCapacity:       opts.Capacity,
		ScheduleAvailableSeats: opts.Available - opts.Passengers,
	}
	m.state.schedules[sc.ScheduleID] = sc

	code := fmt.Sprintf("BK-%s-%s", opts.CreatedAt.Format("20060102"), uuid.NewString()[:6])
	amount := opts.SeatPrice * int64(opts.Passengers)
	b := bookingModel.Booking{
		BookingID:             uuid.New(),
		BookingCode:           code,
		BookingScheduleID:     sc.ScheduleID,
		BookingStatus:         bookingModel.BookingStatusPending,
		BookingPassengerCount: opts.Passengers,
		BookingTotalAmount:    amount,
		BookingContactName:    "Made Wirawan",
		BookingContactEmail:   "made@example.com",
		BookingCreatedAt:      opts.CreatedAt,
		BookingUpdatedAt:      opts.CreatedAt,
	}
	m.state.bookings[b.BookingID] = b

	ps := make([]bookingModel.Passenger, 0, opts.Passengers)
	for i := 1; i <= opts.Passengers; i++ {
		ps = append(ps, bookingModel.Passenger{
			PassengerID:        uuid.New(),
			PassengerBookingID: b.BookingID,
			PassengerSeq:       i,
			PassengerFullName:  fmt.Sprintf("Penumpang %d", i),
		})
	}
	m.state.passengers[b.BookingID] = ps

	p := paymentModel.Payment{
		PaymentID:              uuid.New(),
		PaymentBookingID:       b.BookingID,
		PaymentOrderID:         fmt.Sprintf("ORD-%s-1", code),
		PaymentGrossAmount:     amount,
		PaymentCurrency:        "IDR",
		PaymentStatus:          paymentModel.PaymentStatusPending,
		PaymentGatewayProvider: paymentModel.GatewayProviderMidtrans,
		PaymentLastWebhookAt:   opts.LastWebhook,
		PaymentExpiresAt:       opts.ExpiresAt,
		PaymentVersion:         1,
		PaymentProcessedKeys:   []byte("[]"),
		PaymentCreatedAt:       opts.CreatedAt,
		PaymentUpdatedAt:       opts.CreatedAt,
	}
	m.state.payments[p.PaymentOrderID] = p

	return PendingBooking{
		ScheduleID:  sc.ScheduleID,
		BookingID:   b.BookingID,
		PaymentID:   p.PaymentID,
		OrderID:     p.PaymentOrderID,
		Amount:      amount,
		Passengers:  opts.Passengers,
		SeatsBefore: opts.Available,
	}
}

// SeedSchedule adds a bare schedule for creation-flow tests.
func (m *MemStore) SeedSchedule(capacity int, price int64) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := bookingModel.Schedule{
		ScheduleID:             uuid.New(),
		ScheduleRouteName:      "Padangbai - Lembar",
		ScheduleDepartureAt:    time.Now().Add(48 * time.Hour),
		ScheduleSeatPrice:      price,
		ScheduleCapacity:       capacity,
		ScheduleAvailableSeats: capacity,
	}
	m.state.schedules[sc.ScheduleID] = sc
	return sc.ScheduleID
}

/* ===================== inspection ===================== */

func (m *MemStore) Payment(orderID string) paymentModel.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPayment(m.state.payments[orderID])
}

func (m *MemStore) Booking(id uuid.UUID) bookingModel.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.bookings[id]
}

func (m *MemStore) AvailableSeats(scheduleID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.schedules[scheduleID].ScheduleAvailableSeats
}

func (m *MemStore) Tickets(bookingID uuid.UUID) []ticketModel.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ticketModel.Ticket(nil), m.state.tickets[bookingID]...)
}

func (m *MemStore) ActiveTickets(bookingID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(countActive(m.state.tickets[bookingID]))
}

func (m *MemStore) Audits(orderID string) []paymentModel.PaymentAuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []paymentModel.PaymentAuditLog
	for _, a := range m.state.audits {
		if a.AuditOrderID == orderID {
			out = append(out, a)
		}
	}
	return out
}

// CountAudits counts entries for orderID with the given outcome.
func (m *MemStore) CountAudits(orderID string, outcome paymentModel.AuditOutcome) int {
	n := 0
	for _, a := range m.Audits(orderID) {
		if a.AuditOutcome == outcome {
			n++
		}
	}
	return n
}

func (m *MemStore) LockHeld(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[orderID]
	return ok
}

// HoldLock plants a foreign lease, as a crashed or concurrent worker would.
func (m *MemStore) HoldLock(orderID, holder string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[orderID] = paymentModel.WebhookLock{
		WebhookLockOrderID:   orderID,
		WebhookLockHolder:    holder,
		WebhookLockExpiresAt: expiresAt,
	}
}

// MutatePayment edits a stored payment outside any transaction.
func (m *MemStore) MutatePayment(orderID string, fn func(p *paymentModel.Payment)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.payments[orderID]
	fn(&p)
	m.state.payments[orderID] = p
}

// Outbox returns the outbox rows for orderID in insertion order.
func (m *MemStore) Outbox(orderID string) []paymentModel.EventOutbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []paymentModel.EventOutbox
	for _, o := range m.state.outbox {
		if o.OutboxOrderID == orderID {
			out = append(out, o)
		}
	}
	return out
}

// AgeOutbox moves every outbox row's creation time back by d.
func (m *MemStore) AgeOutbox(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		m.state.outbox[i].OutboxCreatedAt = m.state.outbox[i].OutboxCreatedAt.Add(-d)
	}
}
