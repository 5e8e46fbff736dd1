package gate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type kioskEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KioskLimiter ограничивает частоту запросов от одного киоска.
// Нулевой указатель пропускает все запросы.
type KioskLimiter struct {
	mu       sync.Mutex
	limiters map[string]*kioskEntry
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewKioskLimiter создаёт ограничитель. При rps <= 0 ограничение выключено и возвращается nil.
func NewKioskLimiter(rps float64, burst int) *KioskLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &KioskLimiter{
		limiters: make(map[string]*kioskEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow сообщает, можно ли обработать ещё один запрос киоска.
func (l *KioskLimiter) Allow(kioskID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[kioskID]
	if !ok {
		e = &kioskEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[kioskID] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// Sweep удаляет ограничители киосков, молчавших дольше idle.
func (l *KioskLimiter) Sweep(idle time.Duration) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Run периодически вызывает Sweep до отмены контекста.
func (l *KioskLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	if l == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}
