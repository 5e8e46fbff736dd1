package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/water-kiosk/internal/dedup"
	"github.com/mmeshcher/water-kiosk/internal/directory"
	"github.com/mmeshcher/water-kiosk/internal/gate"
	"github.com/mmeshcher/water-kiosk/internal/model"
)

type stubDirectory struct {
	customer *model.Customer
	err      error
	delay    time.Duration
	panics   bool

	calls atomic.Int32
}

func (s *stubDirectory) Lookup(ctx context.Context, customerID string, policy directory.RetryPolicy) (*model.Customer, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("directory exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.customer == nil {
		return nil, directory.ErrNotFound
	}
	return s.customer, nil
}

type stubGate struct {
	err error
}

func (g stubGate) WithCustomerLock(ctx context.Context, customerID string, fn func() error) error {
	if g.err != nil {
		return g.err
	}
	return fn()
}

type stubLimiter struct {
	allow bool
}

func (l stubLimiter) Allow(string) bool { return l.allow }

var (
	testNow = time.Date(2025, 3, 1, 8, 0, 10, 0, time.UTC)

	activeCustomer = &model.Customer{
		PhoneNumber:        "+254700000000",
		PIN:                "1234",
		IsRegistered:       true,
		SubscriptionActive: true,
		FullName:           "Jane Doe",
		AccountID:          "ACC-1",
	}
)

func newTestService(t *testing.T, dir Directory, g Gate) (*Service, *time.Time) {
	t.Helper()

	if g == nil {
		g = gate.New(time.Second, 8, time.Second)
	}
	tracker := dedup.NewTracker(3*time.Minute, 1000, nil)
	svc := NewService(dir, g, tracker, nil, Config{
		MaxVolumeML: 2000,
		Retry:       directory.DefaultRetryPolicy(),
		NonceBucket: 30 * time.Second,
		CountryCode: "254",
		PINLength:   4,
	}, nil)

	now := testNow
	svc.now = func() time.Time { return now }
	return svc, &now
}

func request() model.DispenseRequest {
	return model.DispenseRequest{
		KioskID:    "KIOSK001",
		CustomerID: "+254700000000",
		PIN:        "1234",
		VolumeML:   500,
		Nonce:      "n-1",
	}
}

func TestHandle_Approved(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, _ := newTestService(t, dir, nil)

	d := svc.Handle(context.Background(), request())

	assert.True(t, d.Approved)
	assert.Equal(t, model.ReasonOK, d.Reason)
	assert.Equal(t, "KIOSK001", d.KioskID)
	assert.Equal(t, "+254700000000", d.CustomerID)
	assert.Equal(t, int64(500), d.VolumeML)
	assert.Equal(t, testNow, d.Timestamp)
	require.NotNil(t, d.Customer)
	assert.Equal(t, "ACC-1", d.Customer.AccountID)
}

func TestHandle_PolicyDenials(t *testing.T) {
	tests := []struct {
		name     string
		customer *model.Customer
		want     model.Reason
	}{
		{
			name:     "subscription inactive",
			customer: &model.Customer{PIN: "1234", IsRegistered: true, SubscriptionActive: false},
			want:     model.ReasonInactive,
		},
		{
			name:     "invalid pin",
			customer: &model.Customer{PIN: "9999", IsRegistered: true, SubscriptionActive: true},
			want:     model.ReasonInvalidPIN,
		},
		{
			name:     "invalid pin on unregistered customer",
			customer: &model.Customer{PIN: "9999"},
			want:     model.ReasonInvalidPIN,
		},
		{
			name:     "not registered",
			customer: &model.Customer{PIN: "1234", SubscriptionActive: true},
			want:     model.ReasonNotRegistered,
		},
		{
			name: "not found",
			want: model.ReasonNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &stubDirectory{customer: tt.customer}, nil)

			d := svc.Handle(context.Background(), request())

			assert.False(t, d.Approved)
			assert.Equal(t, tt.want, d.Reason)
			assert.Nil(t, d.Customer)
			assert.Equal(t, int64(500), d.VolumeML)
			assert.Equal(t, "+254700000000", d.CustomerID)
			assert.Equal(t, "KIOSK001", d.KioskID)
		})
	}
}

func TestHandle_InvalidVolumeSkipsLookup(t *testing.T) {
	for _, volume := range []int64{-5, 0, 2001} {
		t.Run(fmt.Sprint(volume), func(t *testing.T) {
			dir := &stubDirectory{customer: activeCustomer}
			svc, _ := newTestService(t, dir, nil)

			req := request()
			req.VolumeML = volume
			d := svc.Handle(context.Background(), req)

			assert.False(t, d.Approved)
			assert.Equal(t, model.ReasonInvalidVolume, d.Reason)
			assert.Equal(t, volume, d.VolumeML)
			assert.Equal(t, int32(0), dir.calls.Load())
		})
	}
}

func TestHandle_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.DispenseRequest)
	}{
		{name: "missing kiosk", mutate: func(r *model.DispenseRequest) { r.KioskID = "" }},
		{name: "bad phone", mutate: func(r *model.DispenseRequest) { r.CustomerID = "abc" }},
		{name: "missing pin", mutate: func(r *model.DispenseRequest) { r.PIN = "" }},
		{name: "short pin", mutate: func(r *model.DispenseRequest) { r.PIN = "12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &stubDirectory{customer: activeCustomer}
			svc, _ := newTestService(t, dir, nil)

			req := request()
			tt.mutate(&req)
			d := svc.Handle(context.Background(), req)

			assert.False(t, d.Approved)
			assert.Equal(t, model.ReasonMalformed, d.Reason)
			assert.Equal(t, int32(0), dir.calls.Load())
		})
	}
}

func TestHandle_IdempotentReplay(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, now := newTestService(t, dir, nil)

	first := svc.Handle(context.Background(), request())
	*now = now.Add(10 * time.Second)
	second := svc.Handle(context.Background(), request())

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), dir.calls.Load())
	assert.Equal(t, 1, svc.CachedDecisions())
}

func TestHandle_ReplayRequiresSamePIN(t *testing.T) {
	tests := []struct {
		name  string
		nonce string
	}{
		{name: "derived nonce", nonce: ""},
		{name: "supplied nonce", nonce: "n-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &stubDirectory{customer: activeCustomer}
			svc, now := newTestService(t, dir, nil)

			req := request()
			req.Nonce = tt.nonce
			legit := svc.Handle(context.Background(), req)
			require.True(t, legit.Approved)

			wrong := req
			wrong.PIN = "0000"
			*now = now.Add(5 * time.Second)
			d := svc.Handle(context.Background(), wrong)

			assert.False(t, d.Approved)
			assert.Equal(t, model.ReasonInvalidPIN, d.Reason)
			assert.Nil(t, d.Customer)
			assert.Equal(t, int32(2), dir.calls.Load())

			// Повтор с верным PIN по-прежнему получает исходное одобрение.
			again := svc.Handle(context.Background(), req)
			assert.Equal(t, legit, again)
			assert.Equal(t, int32(2), dir.calls.Load())
		})
	}
}

func TestHandle_ConfigurablePINLength(t *testing.T) {
	customer := *activeCustomer
	customer.PIN = "123456"
	dir := &stubDirectory{customer: &customer}

	tracker := dedup.NewTracker(time.Minute, 100, nil)
	svc := NewService(dir, stubGate{}, tracker, nil, Config{
		MaxVolumeML: 2000,
		Retry:       directory.DefaultRetryPolicy(),
		CountryCode: "254",
		PINLength:   6,
	}, nil)

	req := request()
	req.PIN = "123456"
	d := svc.Handle(context.Background(), req)

	assert.True(t, d.Approved)
	assert.Equal(t, model.ReasonOK, d.Reason)
}

func TestHandle_NewNonceRecomputes(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, _ := newTestService(t, dir, nil)

	svc.Handle(context.Background(), request())
	req := request()
	req.Nonce = "n-2"
	svc.Handle(context.Background(), req)

	assert.Equal(t, int32(2), dir.calls.Load())
}

func TestHandle_DerivedNonce(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, now := newTestService(t, dir, nil)

	req := request()
	req.Nonce = ""

	first := svc.Handle(context.Background(), req)

	// Тот же номер в другой записи попадает в тот же ключ.
	other := req
	other.CustomerID = "0700000000"
	*now = now.Add(5 * time.Second)
	second := svc.Handle(context.Background(), other)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), dir.calls.Load())

	*now = now.Add(30 * time.Second)
	svc.Handle(context.Background(), req)
	assert.Equal(t, int32(2), dir.calls.Load())
}

func TestHandle_FailClosed(t *testing.T) {
	dir := &stubDirectory{err: fmt.Errorf("%w: connection refused", directory.ErrBackendUnavailable)}
	svc, _ := newTestService(t, dir, nil)

	d := svc.Handle(context.Background(), request())
	assert.False(t, d.Approved)
	assert.Equal(t, model.ReasonUnavailable, d.Reason)

	// Временный отказ не сохраняется: после восстановления хранилища повтор пересчитывается.
	dir.err = nil
	dir.customer = activeCustomer
	d = svc.Handle(context.Background(), request())
	assert.True(t, d.Approved)
	assert.Equal(t, int32(2), dir.calls.Load())
}

func TestHandle_BackendBusy(t *testing.T) {
	dir := &stubDirectory{err: directory.ErrBackendBusy}
	svc, _ := newTestService(t, dir, nil)

	d := svc.Handle(context.Background(), request())
	assert.False(t, d.Approved)
	assert.Equal(t, model.ReasonBusy, d.Reason)
	assert.Equal(t, 0, svc.CachedDecisions())
}

func TestHandle_LockTimeout(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, _ := newTestService(t, dir, stubGate{err: gate.ErrLockTimeout})

	d := svc.Handle(context.Background(), request())
	assert.False(t, d.Approved)
	assert.Equal(t, model.ReasonBusy, d.Reason)
	assert.Equal(t, int32(0), dir.calls.Load())
}

func TestHandle_PanicFailsClosed(t *testing.T) {
	dir := &stubDirectory{panics: true}
	svc, _ := newTestService(t, dir, nil)

	d := svc.Handle(context.Background(), request())
	assert.False(t, d.Approved)
	assert.Equal(t, model.ReasonUnavailable, d.Reason)
}

func TestHandle_RateLimited(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, _ := newTestService(t, dir, nil)
	svc.limiter = stubLimiter{allow: false}

	d := svc.Handle(context.Background(), request())
	assert.False(t, d.Approved)
	assert.Equal(t, model.ReasonBusy, d.Reason)
	assert.Equal(t, int32(0), dir.calls.Load())
}

func TestHandle_CanceledContextStillCaches(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer}
	svc, _ := newTestService(t, dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := svc.Handle(ctx, request())
	assert.True(t, first.Approved)

	second := svc.Handle(context.Background(), request())
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), dir.calls.Load())
}

func TestHandle_ConcurrentSameCustomerSameNonce(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer, delay: 20 * time.Millisecond}
	svc, _ := newTestService(t, dir, nil)

	const n = 10
	results := make([]model.Decision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Handle(context.Background(), request())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), dir.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestHandle_DistinctCustomersInParallel(t *testing.T) {
	dir := &stubDirectory{customer: activeCustomer, delay: 100 * time.Millisecond}
	svc, _ := newTestService(t, dir, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request()
			req.CustomerID = fmt.Sprintf("+25470000000%d", i)
			svc.Handle(context.Background(), req)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), dir.calls.Load())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}
