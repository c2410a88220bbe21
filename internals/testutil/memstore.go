// Package testutil holds in-memory collaborators for package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/repositories"
)

type memState struct {
	schedules  map[uuid.UUID]bookingModel.Schedule
	bookings   map[uuid.UUID]bookingModel.Booking
	passengers map[uuid.UUID][]bookingModel.Passenger
	payments   map[string]paymentModel.Payment
	tickets    map[uuid.UUID][]ticketModel.Ticket
	audits     []paymentModel.PaymentAuditLog
	outbox     []paymentModel.EventOutbox
}

func (s memState) clone() memState {
	out := memState{
		schedules:  make(map[uuid.UUID]bookingModel.Schedule, len(s.schedules)),
		bookings:   make(map[uuid.UUID]bookingModel.Booking, len(s.bookings)),
		passengers: make(map[uuid.UUID][]bookingModel.Passenger, len(s.passengers)),
		payments:   make(map[string]paymentModel.Payment, len(s.payments)),
		tickets:    make(map[uuid.UUID][]ticketModel.Ticket, len(s.tickets)),
		audits:     append([]paymentModel.PaymentAuditLog(nil), s.audits...),
		outbox:     append([]paymentModel.EventOutbox(nil), s.outbox...),
	}
	for k, v := range s.schedules {
		out.schedules[k] = v
	}
	for k, v := range s.bookings {
		out.bookings[k] = v
	}
	for k, v := range s.passengers {
		out.passengers[k] = append([]bookingModel.Passenger(nil), v...)
	}
	for k, v := range s.payments {
		out.payments[k] = copyPayment(v)
	}
	for k, v := range s.tickets {
		out.tickets[k] = append([]ticketModel.Ticket(nil), v...)
	}
	return out
}

func copyPayment(p paymentModel.Payment) paymentModel.Payment {
	if p.PaymentProcessedKeys != nil {
		p.PaymentProcessedKeys = append([]byte(nil), p.PaymentProcessedKeys...)
	}
	return p
}

// MemStore implements repositories.Store in memory. One mutex serialises
// every transaction, which is stricter than the row locks of the real store.
type MemStore struct {
	mu    sync.Mutex
	state memState
	locks map[string]paymentModel.WebhookLock

	// fault injection, guarded by mu
	txErrs        []error
	ticketErr     error
	createTickets int
}

var _ repositories.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		state: memState{
			schedules:  map[uuid.UUID]bookingModel.Schedule{},
			bookings:   map[uuid.UUID]bookingModel.Booking{},
			passengers: map[uuid.UUID][]bookingModel.Passenger{},
			payments:   map[string]paymentModel.Payment{},
			tickets:    map[uuid.UUID][]ticketModel.Ticket{},
		},
		locks: map[string]paymentModel.WebhookLock{},
	}
}

/* ===================== fault injection ===================== */

// FailNextTx makes the next len(errs) InTx calls fail with the given errors
// before running their callback.
func (m *MemStore) FailNextTx(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErrs = append(m.txErrs, errs...)
}

// FailTicketCreation makes CreateTickets return err until cleared with nil.
func (m *MemStore) FailTicketCreation(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticketErr = err
}

// TicketBatches counts successful CreateTickets calls.
func (m *MemStore) TicketBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTickets
}

/* ===================== Store ===================== */

func (m *MemStore) InTx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		return err
	}

	snapshot := m.state.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemStore) AcquireLock(_ context.Context, orderID, holder string, lease time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, l := range m.locks {
		if l.WebhookLockExpiresAt.Before(now) {
			delete(m.locks, k)
		}
	}
	if _, held := m.locks[orderID]; held {
		return false, nil
	}
	m.locks[orderID] = paymentModel.WebhookLock{
		WebhookLockOrderID:   orderID,
		WebhookLockHolder:    holder,
		WebhookLockExpiresAt: now.Add(lease),
		WebhookLockCreatedAt: now,
	}
	return true, nil
}

func (m *MemStore) ReleaseLock(_ context.Context, orderID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[orderID]; ok && l.WebhookLockHolder == holder {
		delete(m.locks, orderID)
	}
	return nil
}

func (m *MemStore) FindPaymentByOrderID(_ context.Context, orderID string) (*paymentModel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", orderID, helper.ErrNotFound)
	}
	cp := copyPayment(p)
	return &cp, nil
}

func (m *MemStore) FindPaymentByBookingID(_ context.Context, bookingID uuid.UUID) (*paymentModel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.payments {
		if p.PaymentBookingID == bookingID {
			cp := copyPayment(p)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment for booking %s: %w", bookingID, helper.ErrNotFound)
}

func (m *MemStore) FindBooking(_ context.Context, bookingID uuid.UUID) (*bookingModel.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", bookingID, helper.ErrNotFound)
	}
	return &b, nil
}

func (m *MemStore) FindSchedule(_ context.Context, scheduleID uuid.UUID) (*bookingModel.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, helper.ErrNotFound)
	}
	return &s, nil
}

func (m *MemStore) ListTickets(_ context.Context, bookingID uuid.UUID) ([]ticketModel.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ticketModel.Ticket(nil), m.state.tickets[bookingID]...), nil
}

func (m *MemStore) AppendAudit(_ context.Context, entry *paymentModel.PaymentAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	return nil
}

func (m *MemStore) appendAuditLocked(entry *paymentModel.PaymentAuditLog) {
	if entry.AuditID == uuid.Nil {
		entry.AuditID = uuid.New()
	}
	if entry.AuditCreatedAt.IsZero() {
		entry.AuditCreatedAt = time.Now()
	}
	m.state.audits = append(m.state.audits, *entry)
}

func (m *MemStore) ListAudit(_ context.Context, orderID string) ([]paymentModel.PaymentAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []paymentModel.PaymentAuditLog
	for _, a := range m.state.audits {
		if a.AuditOrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) sortedPayments(keep func(p paymentModel.Payment) bool) []paymentModel.Payment {
	var out []paymentModel.Payment
	for _, p := range m.state.payments {
		if keep(p) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentCreatedAt.Before(out[j].PaymentCreatedAt) })
	return out
}

func limitPayments(in []paymentModel.Payment, limit int) []paymentModel.Payment {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func (m *MemStore) FindStalePending(_ context.Context, createdBefore, quietSince time.Time, limit int) ([]paymentModel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedPayments(func(p paymentModel.Payment) bool {
		if p.PaymentStatus != paymentModel.PaymentStatusPending || !p.PaymentCreatedAt.Before(createdBefore) {
			return false
		}
		return p.PaymentLastWebhookAt == nil || p.PaymentLastWebhookAt.Before(quietSince)
	})
	return limitPayments(out, limit), nil
}

func (m *MemStore) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]paymentModel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedPayments(func(p paymentModel.Payment) bool {
		return p.PaymentStatus == paymentModel.PaymentStatusPending && p.PaymentExpiresAt.Before(now)
	})
	return limitPayments(out, limit), nil
}

func (m *MemStore) FindPaymentsCreatedBetween(_ context.Context, from, to time.Time) ([]paymentModel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedPayments(func(p paymentModel.Payment) bool {
		return !p.PaymentCreatedAt.Before(from) && p.PaymentCreatedAt.Before(to)
	}), nil
}

func (m *MemStore) FindBookingsMissingTickets(_ context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, p := range m.sortedPayments(func(p paymentModel.Payment) bool {
		return p.PaymentStatus == paymentModel.PaymentStatusSuccess
	}) {
		b, ok := m.state.bookings[p.PaymentBookingID]
		if !ok || !b.HadTicketsIssued() {
			continue
		}
		if countActive(m.state.tickets[b.BookingID]) > 0 {
			continue
		}
		ids = append(ids, b.BookingID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func countActive(ts []ticketModel.Ticket) int64 {
	var n int64
	for _, t := range ts {
		if t.TicketStatus == ticketModel.TicketStatusActive {
			n++
		}
	}
	return n
}

func (m *MemStore) FindUndeliveredEvents(_ context.Context, createdBefore time.Time, maxAttempts, limit int) ([]paymentModel.EventOutbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []paymentModel.EventOutbox
	for _, o := range m.state.outbox {
		if o.Delivered() || !o.OutboxCreatedAt.Before(createdBefore) {
			continue
		}
		if maxAttempts > 0 && o.OutboxAttempts >= maxAttempts {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OutboxCreatedAt.Before(out[j].OutboxCreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) MarkEventDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		if m.state.outbox[i].OutboxID == id && !m.state.outbox[i].Delivered() {
			when := at
			m.state.outbox[i].OutboxDeliveredAt = &when
		}
	}
	return nil
}

func (m *MemStore) RecordEventFailure(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		if m.state.outbox[i].OutboxID == id && !m.state.outbox[i].Delivered() {
			r := reason
			m.state.outbox[i].OutboxAttempts++
			m.state.outbox[i].OutboxLastError = &r
		}
	}
	return nil
}

/* ===================== Tx ===================== */

type memTx struct{ m *MemStore }

func (t *memTx) LockPaymentByOrderID(orderID string) (*paymentModel.Payment, error) {
	p, ok := t.m.state.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", orderID, helper.ErrNotFound)
	}
	cp := copyPayment(p)
	return &cp, nil
}

func (t *memTx) LockBooking(bookingID uuid.UUID) (*bookingModel.Booking, error) {
	b, ok := t.m.state.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", bookingID, helper.ErrNotFound)
	}
	return &b, nil
}

func (t *memTx) LockSchedule(scheduleID uuid.UUID) (*bookingModel.Schedule, error) {
	s, ok := t.m.state.schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, helper.ErrNotFound)
	}
	return &s, nil
}

func (t *memTx) CreateBooking(b *bookingModel.Booking, passengers []bookingModel.Passenger) error {
	if b.BookingID == uuid.Nil {
		b.BookingID = uuid.New()
	}
	now := time.Now()
	b.BookingCreatedAt, b.BookingUpdatedAt = now, now
	t.m.state.bookings[b.BookingID] = *b
	for i := range passengers {
		if passengers[i].PassengerID == uuid.Nil {
			passengers[i].PassengerID = uuid.New()
		}
		passengers[i].PassengerBookingID = b.BookingID
	}
	t.m.state.passengers[b.BookingID] = append([]bookingModel.Passenger(nil), passengers...)
	return nil
}

func (t *memTx) CreatePayment(p *paymentModel.Payment) error {
	if _, dup := t.m.state.payments[p.PaymentOrderID]; dup {
		return fmt.Errorf("duplicate order id %s", p.PaymentOrderID)
	}
	if p.PaymentID == uuid.Nil {
		p.PaymentID = uuid.New()
	}
	if p.PaymentVersion == 0 {
		p.PaymentVersion = 1
	}
	if p.PaymentCreatedAt.IsZero() {
		p.PaymentCreatedAt = time.Now()
	}
	p.PaymentUpdatedAt = p.PaymentCreatedAt
	t.m.state.payments[p.PaymentOrderID] = copyPayment(*p)
	return nil
}

func (t *memTx) UpdatePayment(p *paymentModel.Payment, expectedVersion int64) error {
	cur, ok := t.m.state.payments[p.PaymentOrderID]
	if !ok {
		return fmt.Errorf("payment %s: %w", p.PaymentOrderID, helper.ErrNotFound)
	}
	if cur.PaymentVersion != expectedVersion {
		return fmt.Errorf("payment %s version %d: %w", p.PaymentOrderID, expectedVersion, helper.ErrVersionConflict)
	}
	next := copyPayment(*p)
	next.PaymentCreatedAt = cur.PaymentCreatedAt
	next.PaymentUpdatedAt = time.Now()
	t.m.state.payments[p.PaymentOrderID] = next
	return nil
}

func (t *memTx) UpdateBooking(b *bookingModel.Booking) error {
	cur, ok := t.m.state.bookings[b.BookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.BookingID, helper.ErrNotFound)
	}
	next := *b
	next.BookingCreatedAt = cur.BookingCreatedAt
	next.BookingUpdatedAt = time.Now()
	t.m.state.bookings[b.BookingID] = next
	return nil
}

func (t *memTx) AdjustSeats(scheduleID uuid.UUID, delta int) error {
	s, ok := t.m.state.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", scheduleID, helper.ErrNotFound)
	}
	next := s.ScheduleAvailableSeats + delta
	if next < 0 || next > s.ScheduleCapacity {
		return fmt.Errorf("schedule %s delta %d: %w", scheduleID, delta, helper.ErrInsufficientSeats)
	}
	s.ScheduleAvailableSeats = next
	t.m.state.schedules[scheduleID] = s
	return nil
}

func (t *memTx) ListPassengers(bookingID uuid.UUID) ([]bookingModel.Passenger, error) {
	out := append([]bookingModel.Passenger(nil), t.m.state.passengers[bookingID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PassengerSeq < out[j].PassengerSeq })
	return out, nil
}

func (t *memTx) CountActiveTickets(bookingID uuid.UUID) (int64, error) {
	return countActive(t.m.state.tickets[bookingID]), nil
}

func (t *memTx) CreateTickets(tickets []ticketModel.Ticket) error {
	if t.m.ticketErr != nil {
		return t.m.ticketErr
	}
	seen := map[uuid.UUID]bool{}
	for _, ts := range t.m.state.tickets {
		for _, tk := range ts {
			seen[tk.TicketPassengerID] = true
		}
	}
	for _, tk := range tickets {
		if seen[tk.TicketPassengerID] {
			return fmt.Errorf("duplicate ticket for passenger %s", tk.TicketPassengerID)
		}
		seen[tk.TicketPassengerID] = true
	}
	for _, tk := range tickets {
		if tk.TicketID == uuid.Nil {
			tk.TicketID = uuid.New()
		}
		if tk.TicketIssuedAt.IsZero() {
			tk.TicketIssuedAt = time.Now()
		}
		t.m.state.tickets[tk.TicketBookingID] = append(t.m.state.tickets[tk.TicketBookingID], tk)
	}
	t.m.createTickets++
	return nil
}

func (t *memTx) InvalidateTickets(bookingID uuid.UUID, reason string, at time.Time) (int64, error) {
	ts := t.m.state.tickets[bookingID]
	var n int64
	for i := range ts {
		if ts[i].TicketStatus != ticketModel.TicketStatusActive {
			continue
		}
		r, when := reason, at
		ts[i].TicketStatus = ticketModel.TicketStatusInvalidated
		ts[i].TicketInvalidateReason = &r
		ts[i].TicketInvalidatedAt = &when
		n++
	}
	return n, nil
}

func (t *memTx) AppendAudit(entry *paymentModel.PaymentAuditLog) error {
	t.m.appendAuditLocked(entry)
	return nil
}

func (t *memTx) InsertOutbox(rows []paymentModel.EventOutbox) error {
	for _, r := range rows {
		for _, o := range t.m.state.outbox {
			if o.OutboxID == r.OutboxID {
				return fmt.Errorf("duplicate outbox id %s", r.OutboxID)
			}
		}
		t.m.state.outbox = append(t.m.state.outbox, r)
	}
	return nil
}
