// file: internals/features/payment/payments/service/lock.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/repositories"
)

const (
	DefaultLockLease = 30 * time.Second
	defaultLockPoll  = 25 * time.Millisecond
)

// WebhookLock is the per-order lease over the webhook_locks table. Every
// mutation path for an order goes through Acquire/release.
type WebhookLock struct {
	store repositories.Store
	lease time.Duration
	wait  time.Duration
	poll  time.Duration
	now   func() time.Time
}

func NewWebhookLock(store repositories.Store, lease, wait time.Duration) *WebhookLock {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	return &WebhookLock{store: store, lease: lease, wait: wait, poll: defaultLockPoll, now: time.Now}
}

// Acquire tries to take the lease, polling for up to the configured wait.
// It returns ErrLockContention when another holder keeps it.
func (l *WebhookLock) Acquire(ctx context.Context, orderID string) (release func(), err error) {
	holder := uuid.NewString()
	deadline := l.now().Add(l.wait)

	for {
		ok, err := l.store.AcquireLock(ctx, orderID, holder, l.lease, l.now())
		if err != nil {
			return nil, fmt.Errorf("acquire webhook lock %s: %w", orderID, err)
		}
		if ok {
			return func() { l.release(ctx, orderID, holder) }, nil
		}
		if !l.now().Before(deadline) {
			return nil, fmt.Errorf("order %s: %w", orderID, helper.ErrLockContention)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("order %s: %w", orderID, helper.ErrLockContention)
		case <-time.After(l.poll):
		}
	}
}

func (l *WebhookLock) release(ctx context.Context, orderID, holder string) {
	// release even if the request context is already gone
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.store.ReleaseLock(rctx, orderID, holder); err != nil {
		helper.Logger.WithError(err).WithField("order_id", orderID).Warn("webhook lock release failed, lease will expire")
	}
}
