// Package directory ищет абонентов во внешнем хранилище с ограничением по
// времени, повторами с экспоненциальной задержкой и контролем числа
// одновременных обращений.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/water-kiosk/internal/model"
	"github.com/mmeshcher/water-kiosk/internal/validation"
)

var (
	// ErrNotFound возвращается, если абонент не найден ни под одним вариантом номера.
	ErrNotFound = errors.New("customer not found")
	// ErrBackendUnavailable возвращается, если хранилище не ответило за отведённые попытки.
	ErrBackendUnavailable = errors.New("customer directory unavailable")
	// ErrBackendBusy возвращается, если не удалось дождаться слота обращения к хранилищу.
	ErrBackendBusy = errors.New("customer directory busy")
)

// Source описывает хранилище, умеющее найти абонента по точному номеру телефона.
type Source interface {
	FindCustomer(ctx context.Context, phone string) (*model.Customer, bool, error)
}

// Limiter ограничивает число одновременных обращений к хранилищу.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// RetryPolicy задаёт бюджет времени и повторов одного поиска.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Timeout        time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      50 * time.Millisecond,
		MaxDelay:       500 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
		Timeout:        5 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(retries, b)
}

// Directory ищет абонентов в хранилище с повторами и ограничением нагрузки.
type Directory struct {
	source      Source
	limiter     Limiter
	countryCode string
	retryable   func(error) bool
	logger      *zap.Logger
}

// Option настраивает Directory.
type Option func(*Directory)

// WithLimiter задаёт ограничение одновременных обращений к хранилищу.
func WithLimiter(l Limiter) Option {
	return func(d *Directory) { d.limiter = l }
}

// WithCountryCode задаёт телефонный код страны для вариантов номера.
func WithCountryCode(code string) Option {
	return func(d *Directory) { d.countryCode = code }
}

// WithRetryable задаёт классификатор временных ошибок хранилища.
func WithRetryable(fn func(error) bool) Option {
	return func(d *Directory) { d.retryable = fn }
}

// New создаёт адаптер поверх source.
func New(source Source, logger *zap.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		source: source,
		logger: logger,
		retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Lookup ищет абонента по идентификатору. Возвращает ErrNotFound,
// ErrBackendBusy или ErrBackendUnavailable; «не найден» не повторяется.
func (d *Directory) Lookup(ctx context.Context, customerID string, policy RetryPolicy) (*model.Customer, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	var (
		customer *model.Customer
		attempt  int
	)
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		c, err := d.attempt(ctx, customerID, policy.AttemptTimeout)
		if err == nil {
			customer = c
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendBusy) || !d.retryable(err) {
			return err
		}
		d.logger.Warn("customer lookup attempt failed",
			zap.String("customer", customerID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		return customer, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBackendBusy):
		return nil, err
	default:
		return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrBackendUnavailable, attempt, err)
	}
}

func (d *Directory) attempt(ctx context.Context, customerID string, timeout time.Duration) (*model.Customer, error) {
	if d.limiter != nil {
		if err := d.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendBusy, err)
		}
		defer d.limiter.Release()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, phone := range validation.PhoneVariants(customerID, d.countryCode) {
		c, found, err := d.source.FindCustomer(ctx, phone)
		if err != nil {
			return nil, err
		}
		if found {
			return c, nil
		}
	}
	return nil, ErrNotFound
}
