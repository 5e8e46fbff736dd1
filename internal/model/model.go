// Package model содержит доменные сущности сервиса авторизации налива воды.
package model

import "time"

// Customer описывает абонента из внешнего хранилища клиентов.
// PIN никогда не логируется и не возвращается киоску.
type Customer struct {
	PhoneNumber        string
	PIN                string
	IsRegistered       bool
	SubscriptionActive bool
	FullName           string
	AccountID          string
	Plan               string
	Credits            float64
}

// DispenseRequest описывает один запрос киоска на налив.
type DispenseRequest struct {
	KioskID    string
	CustomerID string
	PIN        string
	VolumeML   int64
	Nonce      string
	// Timestamp передаётся прошивкой киоска и используется только в логах.
	Timestamp string
}

// Reason перечисляет причины решения, которые видит киоск.
type Reason string

const (
	ReasonOK            Reason = "OK"
	ReasonNotFound      Reason = "Customer not found"
	ReasonInvalidPIN    Reason = "Invalid PIN"
	ReasonNotRegistered Reason = "Not registered"
	ReasonInactive      Reason = "Subscription inactive"
	ReasonInvalidVolume Reason = "Invalid volume"
	ReasonUnavailable   Reason = "Service temporarily unavailable"
	ReasonBusy          Reason = "Busy, retry"
	ReasonMalformed     Reason = "Malformed request"
)

// CustomerInfo содержит несекретные данные абонента, возвращаемые при одобрении.
type CustomerInfo struct {
	PhoneNumber string  `json:"phone_number"`
	AccountID   string  `json:"account_id,omitempty"`
	FullName    string  `json:"full_name,omitempty"`
	Plan        string  `json:"plan,omitempty"`
	Credits     float64 `json:"credits"`
}

// Decision описывает итоговое решение по запросу налива. После создания не изменяется.
type Decision struct {
	Approved   bool
	Reason     Reason
	Timestamp  time.Time
	KioskID    string
	CustomerID string
	VolumeML   int64
	Customer   *CustomerInfo
}

// NewDecision собирает решение, повторяя поля запроса.
func NewDecision(req DispenseRequest, approved bool, reason Reason, at time.Time) Decision {
	return Decision{
		Approved:   approved,
		Reason:     reason,
		Timestamp:  at.UTC(),
		KioskID:    req.KioskID,
		CustomerID: req.CustomerID,
		VolumeML:   req.VolumeML,
	}
}

// Info возвращает несекретную часть записи абонента.
func (c *Customer) Info() *CustomerInfo {
	if c == nil {
		return nil
	}
	return &CustomerInfo{
		PhoneNumber: c.PhoneNumber,
		AccountID:   c.AccountID,
		FullName:    c.FullName,
		Plan:        c.Plan,
		Credits:     c.Credits,
	}
}
