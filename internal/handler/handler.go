// Package handler содержит HTTP-обработчики сервиса авторизации налива.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/water-kiosk/internal/docstore"
	"github.com/mmeshcher/water-kiosk/internal/middleware"
	"github.com/mmeshcher/water-kiosk/internal/model"
)

const (
	maxRequestBody  = 16 << 10
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Service определяет контракт принятия решений, используемый HTTP-обработчиками.
type Service interface {
	Handle(ctx context.Context, req model.DispenseRequest) model.Decision
	CachedDecisions() int
}

// DocumentStore определяет операции документного хранилища, доступные администратору.
type DocumentStore interface {
	ListDocuments(ctx context.Context, collection string, queries []string) (*docstore.DocumentList, error)
	CreateDocument(ctx context.Context, collection, documentID string, data map[string]any) (docstore.Document, error)
	UpdateDocument(ctx context.Context, collection, documentID string, data map[string]any) (docstore.Document, error)
	ListCollections(ctx context.Context) (*docstore.CollectionList, error)
}

// Pinger проверяет доступность хранилища абонентов.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	service        Service
	store          DocumentStore
	pinger         Pinger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// store и auth могут быть nil: тогда административные эндпоинты не регистрируются.
func NewHandler(s Service, store DocumentStore, pinger Pinger, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		store:          store,
		pinger:         pinger,
		logger:         logger,
		authMiddleware: auth,
		now:            time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(timestampLayout)
}

type statusResponse struct {
	Status          string            `json:"status"`
	Message         string            `json:"message"`
	Timestamp       string            `json:"timestamp"`
	Features        []string          `json:"features"`
	Endpoints       map[string]string `json:"endpoints"`
	CachedDecisions int               `json:"cached_decisions"`
}

// Status возвращает сведения о сервисе и списке эндпоинтов.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	features := []string{"dispense_verification"}
	endpoints := map[string]string{
		"status":                "GET / - This status page",
		"health":                "GET /healthz - Customer store health",
		"dispense_verification": "POST /dispense-verification - Verify user for water dispensing",
	}
	if h.adminEnabled() {
		features = append(features, "database_query", "database_create", "database_update")
		endpoints["database_query"] = "POST /database/query - Query database documents"
		endpoints["database_create"] = "POST /database/create - Create database documents"
		endpoints["database_update"] = "POST /database/update - Update database documents"
		endpoints["test_database"] = "POST /test-database - Test database connection"
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:          "Water Kiosk Hardware Server Active",
		Message:         "Dispense authorization service for kiosk hardware",
		Timestamp:       h.timestamp(),
		Features:        features,
		Endpoints:       endpoints,
		CachedDecisions: h.service.CachedDecisions(),
	})
}

// Health проверяет доступность хранилища абонентов.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Warn("customer store health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) adminEnabled() bool {
	return h.store != nil && h.authMiddleware != nil
}
