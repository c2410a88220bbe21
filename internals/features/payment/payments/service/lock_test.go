package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/testutil"
)

func TestWebhookLockSerialisesSameOrder(t *testing.T) {
	store := testutil.NewMemStore()
	lock := NewWebhookLock(store, time.Minute, 5*time.Second)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(context.Background(), "ORD-1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, store.LockHeld("ORD-1"))
}

func TestWebhookLockDoesNotBlockOtherOrders(t *testing.T) {
	store := testutil.NewMemStore()
	lock := NewWebhookLock(store, time.Minute, 0)

	r1, err := lock.Acquire(context.Background(), "ORD-1")
	require.NoError(t, err)
	defer r1()

	r2, err := lock.Acquire(context.Background(), "ORD-2")
	require.NoError(t, err)
	r2()
}

func TestWebhookLockContention(t *testing.T) {
	store := testutil.NewMemStore()
	store.HoldLock("ORD-1", "someone-else", time.Now().Add(time.Minute))

	lock := NewWebhookLock(store, time.Minute, 60*time.Millisecond)
	_, err := lock.Acquire(context.Background(), "ORD-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, helper.ErrLockContention))
}

func TestWebhookLockExpiredLeaseIsReclaimed(t *testing.T) {
	store := testutil.NewMemStore()
	store.HoldLock("ORD-1", "crashed", time.Now().Add(-time.Millisecond))

	lock := NewWebhookLock(store, time.Minute, 0)
	release, err := lock.Acquire(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.True(t, store.LockHeld("ORD-1"))
	release()
	assert.False(t, store.LockHeld("ORD-1"))
}

func TestWebhookLockReleaseOnlyOwnLease(t *testing.T) {
	store := testutil.NewMemStore()
	lock := NewWebhookLock(store, 10*time.Millisecond, 0)

	release, err := lock.Acquire(context.Background(), "ORD-1")
	require.NoError(t, err)

	// lease runs out and someone else takes the order
	time.Sleep(15 * time.Millisecond)
	other := NewWebhookLock(store, time.Minute, 0)
	r2, err := other.Acquire(context.Background(), "ORD-1")
	require.NoError(t, err)

	release()
	assert.True(t, store.LockHeld("ORD-1"), "stale holder must not drop the new lease")
	r2()
	assert.False(t, store.LockHeld("ORD-1"))
}

func TestWebhookLockReleaseSurvivesCancelledContext(t *testing.T) {
	store := testutil.NewMemStore()
	lock := NewWebhookLock(store, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	release, err := lock.Acquire(ctx, "ORD-1")
	require.NoError(t, err)
	cancel()
	release()
	assert.False(t, store.LockHeld("ORD-1"))
}
