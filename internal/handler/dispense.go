package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/water-kiosk/internal/model"
)

// dispenseRequest повторяет формат, который отправляет прошивка киоска.
type dispenseRequest struct {
	KioskID   string      `json:"kiosk_id"`
	UserID    string      `json:"user_id"`
	PIN       string      `json:"pin"`
	VolumeML  json.Number `json:"volume_ml"`
	Nonce     string      `json:"nonce"`
	Timestamp string      `json:"timestamp"`
}

type dispenseResponse struct {
	Type      string              `json:"type"`
	UserID    string              `json:"user_id"`
	KioskID   string              `json:"kiosk_id"`
	VolumeML  int64               `json:"volume_ml"`
	Approved  bool                `json:"approved"`
	Reason    string              `json:"reason"`
	Timestamp string              `json:"timestamp"`
	UserData  *model.CustomerInfo `json:"user_data,omitempty"`
}

func newDispenseResponse(d model.Decision) dispenseResponse {
	return dispenseResponse{
		Type:      "dispense_response",
		UserID:    d.CustomerID,
		KioskID:   d.KioskID,
		VolumeML:  d.VolumeML,
		Approved:  d.Approved,
		Reason:    string(d.Reason),
		Timestamp: d.Timestamp.UTC().Format(timestampLayout),
		UserData:  d.Customer,
	}
}

// DispenseVerification принимает запрос киоска и всегда отвечает 200 с телом решения,
// даже если запрос некорректен: прошивка киоска ожидает разбираемый ответ.
func (h *Handler) DispenseVerification(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("dispense verification panic", zap.Any("panic", rec))
			d := model.NewDecision(toModel(req, 0), false, model.ReasonUnavailable, h.now())
			writeJSON(w, http.StatusOK, newDispenseResponse(d))
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Info("malformed dispense request", zap.Error(err))
		h.writeMalformed(w, req)
		return
	}

	if req.VolumeML == "" {
		h.writeMalformed(w, req)
		return
	}
	volume, err := req.VolumeML.Int64()
	if err != nil {
		h.writeMalformed(w, req)
		return
	}

	decision := h.service.Handle(r.Context(), toModel(req, volume))
	writeJSON(w, http.StatusOK, newDispenseResponse(decision))
}

func (h *Handler) writeMalformed(w http.ResponseWriter, req dispenseRequest) {
	volume, _ := req.VolumeML.Int64()
	d := model.NewDecision(toModel(req, volume), false, model.ReasonMalformed, h.now())
	writeJSON(w, http.StatusOK, newDispenseResponse(d))
}

func toModel(req dispenseRequest, volume int64) model.DispenseRequest {
	return model.DispenseRequest{
		KioskID:    req.KioskID,
		CustomerID: req.UserID,
		PIN:        req.PIN,
		VolumeML:   volume,
		Nonce:      req.Nonce,
		Timestamp:  req.Timestamp,
	}
}
