package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCustomerLock_SerializesSameKey(t *testing.T) {
	g := New(time.Second, 4, time.Second)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithCustomerLock(context.Background(), "+254700000000", func() error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, g.lockCount())
}

func TestWithCustomerLock_DistinctKeysRunInParallel(t *testing.T) {
	g := New(time.Second, 4, time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = g.WithCustomerLock(context.Background(), "a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- g.WithCustomerLock(context.Background(), "b", func() error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("lock for a distinct customer was blocked")
	}
	close(release)
}

func TestWithCustomerLock_Timeout(t *testing.T) {
	g := New(20*time.Millisecond, 4, time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.WithCustomerLock(context.Background(), "a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	called := false
	err := g.WithCustomerLock(context.Background(), "a", func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
}

func TestWithCustomerLock_ReleasesOnError(t *testing.T) {
	g := New(50*time.Millisecond, 4, time.Second)
	boom := errors.New("boom")

	err := g.WithCustomerLock(context.Background(), "a", func() error { return boom })
	require.ErrorIs(t, err, boom)

	err = g.WithCustomerLock(context.Background(), "a", func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, g.lockCount())
}

func TestWithCustomerLock_ReleasesOnPanic(t *testing.T) {
	g := New(50*time.Millisecond, 4, time.Second)

	func() {
		defer func() { _ = recover() }()
		_ = g.WithCustomerLock(context.Background(), "a", func() error { panic("boom") })
	}()

	err := g.WithCustomerLock(context.Background(), "a", func() error { return nil })
	assert.NoError(t, err)
}

func TestAcquire_Saturated(t *testing.T) {
	g := New(time.Second, 1, 20*time.Millisecond)

	require.NoError(t, g.Acquire(context.Background()))

	err := g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrSaturated)

	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}

func TestKioskLimiter(t *testing.T) {
	l := NewKioskLimiter(1, 2)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("KIOSK001"))
	assert.True(t, l.Allow("KIOSK001"))
	assert.False(t, l.Allow("KIOSK001"))
	assert.True(t, l.Allow("KIOSK002"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("KIOSK001"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.Sweep(time.Minute))
}

func TestKioskLimiter_Disabled(t *testing.T) {
	l := NewKioskLimiter(0, 10)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("KIOSK001"))
	}
	assert.Equal(t, 0, l.Sweep(time.Minute))
}
