// Package gate ограничивает параллелизм: сериализует решения по одному абоненту
// и ограничивает число одновременных обращений к хранилищу клиентов.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrLockTimeout возвращается, если блокировку абонента не удалось получить за отведённое время.
	ErrLockTimeout = errors.New("customer lock wait timed out")
	// ErrSaturated возвращается, если слот обращения к хранилищу не освободился вовремя.
	ErrSaturated = errors.New("backend concurrency limit reached")
)

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Gate реализует блокировки по ключу абонента и семафор обращений к хранилищу.
type Gate struct {
	mu       sync.Mutex
	locks    map[string]*keyLock
	lockWait time.Duration

	backend     *semaphore.Weighted
	backendWait time.Duration
}

// New создаёт Gate. backendLimit задаёт число одновременных обращений к хранилищу.
func New(lockWait time.Duration, backendLimit int64, backendWait time.Duration) *Gate {
	if backendLimit <= 0 {
		backendLimit = 1
	}
	return &Gate{
		locks:       make(map[string]*keyLock),
		lockWait:    lockWait,
		backend:     semaphore.NewWeighted(backendLimit),
		backendWait: backendWait,
	}
}

// WithCustomerLock выполняет fn, удерживая блокировку абонента customerID.
// Вызовы для разных абонентов не блокируют друг друга.
func (g *Gate) WithCustomerLock(ctx context.Context, customerID string, fn func() error) error {
	l := g.ref(customerID)
	defer g.unref(customerID, l)

	timer := time.NewTimer(g.lockWait)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
	defer func() { <-l.ch }()

	return fn()
}

func (g *Gate) ref(key string) *keyLock {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	return l
}

func (g *Gate) unref(key string, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

func (g *Gate) lockCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

// Acquire занимает слот обращения к хранилищу, ожидая не дольше backendWait.
func (g *Gate) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.backendWait)
	defer cancel()

	if err := g.backend.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrSaturated, err)
	}
	return nil
}

// Release освобождает слот, занятый Acquire.
func (g *Gate) Release() {
	g.backend.Release(1)
}
