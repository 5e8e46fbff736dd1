// Package service реализует принятие решения о наливе воды по запросу киоска.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/water-kiosk/internal/dedup"
	"github.com/mmeshcher/water-kiosk/internal/directory"
	"github.com/mmeshcher/water-kiosk/internal/model"
	"github.com/mmeshcher/water-kiosk/internal/policy"
	"github.com/mmeshcher/water-kiosk/internal/validation"
)

// nonceNamespace задаёт пространство имён для выводимых nonce (UUID v5).
var nonceNamespace = uuid.MustParse("6f1f3a52-8c1e-4d7b-9a0e-3b2d7c5e9f41")

// Directory описывает контракт поиска абонентов, используемый сервисом.
type Directory interface {
	Lookup(ctx context.Context, customerID string, policy directory.RetryPolicy) (*model.Customer, error)
}

// Gate описывает сериализацию решений по одному абоненту.
type Gate interface {
	WithCustomerLock(ctx context.Context, customerID string, fn func() error) error
}

// KioskLimiter ограничивает частоту запросов одного киоска.
type KioskLimiter interface {
	Allow(kioskID string) bool
}

// Config содержит параметры принятия решений.
type Config struct {
	MaxVolumeML int64
	Retry       directory.RetryPolicy
	// NonceBucket задаёт ширину временного окна, из которого выводится nonce,
	// если киоск его не передал.
	NonceBucket time.Duration
	CountryCode string
	// PINLength задаёт длину PIN; 0 допускает от 1 до validation.MaxPINLength цифр.
	PINLength int
}

// Service принимает решения о наливе.
type Service struct {
	directory Directory
	gate      Gate
	tracker   *dedup.Tracker
	evaluator *policy.Evaluator
	limiter   KioskLimiter

	retry       directory.RetryPolicy
	nonceBucket time.Duration
	countryCode string
	pinLength   int

	// credentialKey служит ключом HMAC для дайджеста PIN в таблице повторов, свой у каждого процесса.
	credentialKey []byte

	now    func() time.Time
	logger *zap.Logger
}

// NewService создаёт сервис решений. limiter может быть nil.
func NewService(dir Directory, g Gate, tracker *dedup.Tracker, limiter KioskLimiter, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NonceBucket <= 0 {
		cfg.NonceBucket = 30 * time.Second
	}
	credentialKey := make([]byte, 32)
	_, _ = rand.Read(credentialKey)

	return &Service{
		directory:   dir,
		gate:        g,
		tracker:     tracker,
		evaluator:   policy.NewEvaluator(cfg.MaxVolumeML),
		limiter:     limiter,
		retry:       cfg.Retry,
		nonceBucket: cfg.NonceBucket,
		countryCode: cfg.CountryCode,
		pinLength:   cfg.PINLength,

		credentialKey: credentialKey,

		now:    time.Now,
		logger: logger,
	}
}

// CachedDecisions возвращает число решений в таблице повторов.
func (s *Service) CachedDecisions() int {
	return s.tracker.Len()
}

// Handle принимает решение по запросу киоска. Всегда возвращает корректное решение:
// любая ошибка нижних уровней превращается в отказ.
//
// Обработка не прерывается при обрыве входящего соединения: решение
// дорабатывается и сохраняется, чтобы повтор запроса получил его из таблицы.
func (s *Service) Handle(ctx context.Context, req model.DispenseRequest) model.Decision {
	ctx = context.WithoutCancel(ctx)

	if reason, ok := s.validate(req); !ok {
		return s.finish(req, model.NewDecision(req, false, reason, s.now()), "validation")
	}

	if s.limiter != nil && !s.limiter.Allow(req.KioskID) {
		return s.finish(req, model.NewDecision(req, false, model.ReasonBusy, s.now()), "rate_limit")
	}

	customerKey := validation.CanonicalPhone(req.CustomerID, s.countryCode)
	key := dedup.Key{
		KioskID:    req.KioskID,
		CustomerID: customerKey,
		Nonce:      s.nonce(req, customerKey),
	}

	credential := s.credential(req)

	if d, ok := s.tracker.Get(key, credential); ok {
		return s.finish(req, d, "replay")
	}

	var (
		decision model.Decision
		replayed bool
	)
	err := s.gate.WithCustomerLock(ctx, customerKey, func() error {
		decision, replayed = s.tracker.GetOrCompute(key, credential, func() (model.Decision, bool) {
			return s.decide(ctx, req)
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("customer lock not acquired",
			zap.String("kiosk", req.KioskID),
			zap.String("customer", req.CustomerID),
			zap.Error(err),
		)
		return s.finish(req, model.NewDecision(req, false, model.ReasonBusy, s.now()), "lock")
	}

	if replayed {
		return s.finish(req, decision, "replay")
	}
	return s.finish(req, decision, "computed")
}

func (s *Service) validate(req model.DispenseRequest) (model.Reason, bool) {
	if !validation.IsValidKioskID(req.KioskID) ||
		!validation.IsValidPhone(req.CustomerID) ||
		!validation.IsValidPIN(req.PIN, s.pinLength) {
		return model.ReasonMalformed, false
	}
	if !s.evaluator.ValidVolume(req.VolumeML) {
		return model.ReasonInvalidVolume, false
	}
	return "", true
}

// nonce возвращает nonce запроса или выводит его из киоска, абонента и временного окна.
func (s *Service) nonce(req model.DispenseRequest, customerKey string) string {
	if req.Nonce != "" {
		return req.Nonce
	}
	bucket := s.now().UTC().Truncate(s.nonceBucket).Unix()
	name := req.KioskID + "|" + customerKey + "|" + strconv.FormatInt(bucket, 10)
	return uuid.NewSHA1(nonceNamespace, []byte(name)).String()
}

// credential возвращает дайджест учётных данных запроса. Сохранённое решение
// повторяется только для запроса с тем же PIN.
func (s *Service) credential(req model.DispenseRequest) string {
	mac := hmac.New(sha256.New, s.credentialKey)
	mac.Write([]byte(req.PIN))
	return string(mac.Sum(nil))
}

// decide выполняет поиск абонента и проверку правил. Второй результат сообщает,
// можно ли сохранить решение: временные отказы не сохраняются.
func (s *Service) decide(ctx context.Context, req model.DispenseRequest) (d model.Decision, store bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while deciding",
				zap.String("kiosk", req.KioskID),
				zap.String("customer", req.CustomerID),
				zap.Any("panic", r),
			)
			d, store = model.NewDecision(req, false, model.ReasonUnavailable, s.now()), false
		}
	}()

	customer, err := s.directory.Lookup(ctx, req.CustomerID, s.retry)
	switch {
	case err == nil:
	case errors.Is(err, directory.ErrNotFound):
		customer = nil
	case errors.Is(err, directory.ErrBackendBusy):
		s.logger.Warn("customer directory busy",
			zap.String("customer", req.CustomerID),
			zap.Error(err),
		)
		return model.NewDecision(req, false, model.ReasonBusy, s.now()), false
	default:
		s.logger.Error("customer lookup failed",
			zap.String("customer", req.CustomerID),
			zap.Error(err),
		)
		return model.NewDecision(req, false, model.ReasonUnavailable, s.now()), false
	}

	out := s.evaluator.Evaluate(customer, req.VolumeML, req.PIN)
	d = model.NewDecision(req, out.Approved, out.Reason, s.now())
	if out.Approved {
		d.Customer = customer.Info()
	}
	return d, true
}

func (s *Service) finish(req model.DispenseRequest, d model.Decision, path string) model.Decision {
	s.logger.Info("dispense decision",
		zap.String("kiosk", req.KioskID),
		zap.String("customer", req.CustomerID),
		zap.Int64("volume_ml", req.VolumeML),
		zap.Bool("approved", d.Approved),
		zap.String("reason", string(d.Reason)),
		zap.String("path", path),
		zap.Bool("nonce_supplied", req.Nonce != ""),
	)
	return d
}
