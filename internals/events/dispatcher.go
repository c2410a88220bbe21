package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
)

// Dispatcher hands events to notification collaborators outside the
// transactional path. Dispatch never blocks on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, evts ...Event)
}

// Sink delivers one event somewhere (broker, log, test recorder).
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

/* =======================================================================
   AsyncDispatcher: buffered channel + one delivery worker
======================================================================= */

// AsyncDispatcher delivers in the background. With an Acknowledger set, every
// outcome is written back to the event's outbox row; an event lost here is
// picked up again by the redelivery sweep.
type AsyncDispatcher struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
	ack     Acknowledger
	ch      chan Event

	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}

	once sync.Once
	wg   sync.WaitGroup
}

func NewAsyncDispatcher(sink Sink, buffer int, breaker *resilience.CircuitBreaker) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		sink:     sink,
		breaker:  breaker,
		ch:       make(chan Event, buffer),
		stopping: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// WithAcknowledger must be called before the first Dispatch.
func (d *AsyncDispatcher) WithAcknowledger(ack Acknowledger) *AsyncDispatcher {
	d.ack = ack
	return d
}

// Dispatch is safe to call concurrently with Close; events offered after
// Close are left to the outbox.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, evts ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		for _, e := range evts {
			helper.Logger.WithFields(eventFields(e)).Warn("dispatcher closed, event left in outbox")
		}
		return
	}
	for _, e := range evts {
		select {
		case d.ch <- e:
		case <-ctx.Done():
			helper.Logger.WithFields(eventFields(e)).Warn("event not enqueued: context done, left in outbox")
			return
		case <-d.stopping:
			helper.Logger.WithFields(eventFields(e)).Warn("dispatcher stopping, event left in outbox")
			return
		}
	}
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		d.deliver(e)
	}
}

func (d *AsyncDispatcher) deliver(e Event) {
	publish := func(ctx context.Context) error { return d.sink.Publish(ctx, e) }

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(context.Background(), publish)
	} else {
		err = publish(context.Background())
	}

	log := helper.Logger.WithFields(eventFields(e))
	if err != nil {
		log.WithError(err).Error("event delivery failed, left in outbox")
	}
	if d.ack == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch {
	case err == nil:
		if aerr := d.ack.MarkEventDelivered(ctx, e.ID, time.Now()); aerr != nil {
			// redelivery will publish it again; consumers dedupe on the event id
			log.WithError(aerr).Warn("mark event delivered failed")
		}
	case errors.Is(err, helper.ErrDependencyUnavailable):
		// breaker open: the sink was not tried, no attempt to count
	default:
		if aerr := d.ack.RecordEventFailure(ctx, e.ID, err.Error()); aerr != nil {
			log.WithError(aerr).Warn("record event failure failed")
		}
	}
}

// Close stops accepting events and waits until the buffer is drained or ctx ends.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		close(d.stopping)
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventFields(e Event) logrus.Fields {
	return logrus.Fields{
		"event":      e.Name,
		"event_id":   e.ID,
		"order_id":   e.OrderID,
		"booking_id": e.BookingID,
	}
}
