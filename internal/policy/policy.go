// Package policy реализует правила допуска абонента к наливу.
package policy

import (
	"crypto/subtle"

	"github.com/mmeshcher/water-kiosk/internal/model"
)

// Outcome содержит результат проверки правил.
type Outcome struct {
	Approved bool
	Reason   model.Reason
}

// Evaluator проверяет запись абонента и запрошенный объём.
// Не выполняет ввода-вывода, результат зависит только от аргументов.
type Evaluator struct {
	maxVolumeML int64
}

// NewEvaluator создаёт набор правил с ограничением объёма на один запрос.
func NewEvaluator(maxVolumeML int64) *Evaluator {
	return &Evaluator{maxVolumeML: maxVolumeML}
}

// ValidVolume сообщает, допустим ли запрошенный объём.
func (e *Evaluator) ValidVolume(volumeML int64) bool {
	return volumeML > 0 && volumeML <= e.maxVolumeML
}

// Evaluate применяет правила по порядку и останавливается на первом отказе.
// Порядок важен: по причине отказа эксплуатация отличает проблемы оборудования от проблем аккаунта.
func (e *Evaluator) Evaluate(customer *model.Customer, volumeML int64, pin string) Outcome {
	if customer == nil {
		return deny(model.ReasonNotFound)
	}
	if !pinMatches(customer.PIN, pin) {
		return deny(model.ReasonInvalidPIN)
	}
	if !customer.IsRegistered {
		return deny(model.ReasonNotRegistered)
	}
	if !customer.SubscriptionActive {
		return deny(model.ReasonInactive)
	}
	if !e.ValidVolume(volumeML) {
		return deny(model.ReasonInvalidVolume)
	}
	return Outcome{Approved: true, Reason: model.ReasonOK}
}

// pinMatches сравнивает PIN за постоянное время.
// Пустой сохранённый PIN не совпадает ни с чем.
func pinMatches(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func deny(reason model.Reason) Outcome {
	return Outcome{Approved: false, Reason: reason}
}
