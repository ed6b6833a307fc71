package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider(t *testing.T) {
	t.Parallel()
	testProvider(t, NewLocalProvider(clockwork.NewRealClock(), time.Minute))
}

func TestLocalProvider_LeaseExpiration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewLocalProvider(clk, 10*time.Second)

	holder := p.NewMutex("changeset/claim/tenant1")
	waiter := p.NewMutex("changeset/claim/tenant1")
	require.NoError(t, holder.Lock(ctx))
	require.ErrorAs(t, waiter.TryLock(ctx), &AlreadyLockedError{})

	// The waiter acquires the lock when the holder lease expires
	done := make(chan error, 1)
	go func() {
		done <- waiter.Lock(ctx)
	}()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(10 * time.Second)
	require.NoError(t, <-done)

	// The expired holder cannot unlock
	require.ErrorAs(t, holder.Unlock(ctx), &NotLockedError{})
	require.NoError(t, waiter.Unlock(ctx))
}

func TestLocalProvider_WaitTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewLocalProvider(clockwork.NewRealClock(), time.Minute)

	holder := p.NewMutex("changeset/claim/tenant1")
	require.NoError(t, holder.Lock(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := p.NewMutex("changeset/claim/tenant1").Lock(waitCtx)
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, `cannot lock mutex "changeset/claim/tenant1": lock timeout`, err.Error())

	// Released lock wakes up the waiter
	done := make(chan error, 1)
	go func() {
		done <- p.NewMutex("changeset/claim/tenant1").Lock(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, holder.Unlock(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

// testProvider checks behavior common for all backends.
func testProvider(t *testing.T, p Provider) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mtx1 := p.NewMutex("changeset/claim/tenant1")
	mtx2 := p.NewMutex("changeset/claim/tenant1")
	other := p.NewMutex("changeset/claim/tenant2")

	require.ErrorAs(t, mtx1.Unlock(ctx), &NotLockedError{})

	require.NoError(t, mtx1.Lock(ctx))
	require.ErrorAs(t, mtx1.TryLock(ctx), &AlreadyLockedError{})
	require.ErrorAs(t, mtx2.TryLock(ctx), &AlreadyLockedError{})

	// Different name is independent
	require.NoError(t, other.TryLock(ctx))
	require.NoError(t, other.Unlock(ctx))

	// Timeout
	waitCtx, waitCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer waitCancel()
	require.ErrorIs(t, mtx2.Lock(waitCtx), ErrLockTimeout)

	require.NoError(t, mtx1.Unlock(ctx))
	require.NoError(t, mtx2.TryLock(ctx))
	require.NoError(t, mtx2.Unlock(ctx))
}
