// Package dedup хранит недавно принятые решения, чтобы повторные HTTP-запросы
// киоска по одному и тому же наливу получали то же самое решение.
package dedup

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/water-kiosk/internal/model"
)

// Key идентифицирует одну попытку налива.
type Key struct {
	KioskID    string
	CustomerID string
	Nonce      string
}

func (k Key) String() string {
	return k.KioskID + "\x1f" + k.CustomerID + "\x1f" + k.Nonce
}

type record struct {
	decision   model.Decision
	credential string
	createdAt  time.Time
	expiresAt  time.Time
}

// ComputeFunc вычисляет решение. Второй результат сообщает, можно ли его сохранить.
type ComputeFunc func() (decision model.Decision, store bool)

// Tracker хранит решения в ограниченной по времени жизни и размеру таблице.
// Другие компоненты обращаются к ней только через методы трекера.
type Tracker struct {
	mu         sync.Mutex
	entries    map[Key]record
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	group  singleflight.Group
	logger *zap.Logger
}

// NewTracker создаёт трекер с окном хранения ttl и ограничением на число записей.
func NewTracker(ttl time.Duration, maxEntries int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries:    make(map[Key]record),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
}

// Get возвращает сохранённое решение, если оно ещё не истекло и было принято
// для тех же учётных данных. credential это дайджест учётных данных запроса.
func (t *Tracker) Get(key Key, credential string) (model.Decision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.entries[key]
	if !ok {
		return model.Decision{}, false
	}
	if !t.now().Before(rec.expiresAt) {
		delete(t.entries, key)
		return model.Decision{}, false
	}
	if subtle.ConstantTimeCompare([]byte(rec.credential), []byte(credential)) != 1 {
		return model.Decision{}, false
	}
	return rec.decision, true
}

type flightResult struct {
	decision model.Decision
	replayed bool
}

// GetOrCompute возвращает сохранённое решение или вычисляет его ровно один раз
// для всех одновременных вызовов с тем же ключом и учётными данными. replayed
// равен true, если решение получено не этим вызовом.
func (t *Tracker) GetOrCompute(key Key, credential string, fn ComputeFunc) (decision model.Decision, replayed bool) {
	if d, ok := t.Get(key, credential); ok {
		return d, true
	}

	executed := false
	v, _, _ := t.group.Do(key.String()+"\x1f"+credential, func() (any, error) {
		executed = true
		if d, ok := t.Get(key, credential); ok {
			return flightResult{decision: d, replayed: true}, nil
		}
		d, store := fn()
		if store {
			t.put(key, credential, d)
		}
		return flightResult{decision: d}, nil
	})

	res := v.(flightResult)
	return res.decision, res.replayed || !executed
}

// put сохраняет решение. Действующая запись с другими учётными данными не
// перезаписывается.
func (t *Tracker) put(key Key, credential string, d model.Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	existing, exists := t.entries[key]
	if exists && now.Before(existing.expiresAt) && existing.credential != credential {
		return
	}
	if !exists && t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
		t.sweepLocked(now)
		if len(t.entries) >= t.maxEntries {
			t.evictOldestLocked()
		}
	}

	t.entries[key] = record{
		decision:   d,
		credential: credential,
		createdAt:  now,
		expiresAt:  now.Add(t.ttl),
	}
}

// Sweep удаляет истёкшие записи и возвращает их количество.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sweepLocked(t.now())
}

func (t *Tracker) sweepLocked(now time.Time) int {
	removed := 0
	for k, rec := range t.entries {
		if !now.Before(rec.expiresAt) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

func (t *Tracker) evictOldestLocked() {
	var (
		oldestKey Key
		oldest    time.Time
		found     bool
	)
	for k, rec := range t.entries {
		if !found || rec.createdAt.Before(oldest) {
			oldestKey, oldest, found = k, rec.createdAt, true
		}
	}
	if found {
		delete(t.entries, oldestKey)
		t.logger.Warn("dedup table full, evicted oldest decision",
			zap.String("kiosk", oldestKey.KioskID),
			zap.String("customer", oldestKey.CustomerID),
		)
	}
}

// Len возвращает текущее число записей, включая ещё не удалённые истёкшие.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Run периодически удаляет истёкшие записи до отмены контекста.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.logger.Debug("swept expired decisions", zap.Int("removed", n))
			}
		}
	}
}
