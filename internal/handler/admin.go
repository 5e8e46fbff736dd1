package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/water-kiosk/internal/docstore"
)

type queryRequest struct {
	Collection string   `json:"collection"`
	Queries    []string `json:"queries"`
	RequestID  string   `json:"request_id"`
}

type documentRequest struct {
	Collection   string         `json:"collection"`
	DocumentID   string         `json:"document_id"`
	DocumentData map[string]any `json:"document_data"`
	RequestID    string         `json:"request_id"`
}

type adminResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Total     *int   `json:"total,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) writeAdmin(w http.ResponseWriter, status int, resp adminResponse) {
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	resp.Timestamp = h.timestamp()
	writeJSON(w, status, resp)
}

func (h *Handler) writeAdminError(w http.ResponseWriter, typ, requestID string, err error) {
	status := http.StatusInternalServerError
	var se *docstore.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		status = se.StatusCode
	}
	h.logger.Warn("document store request failed", zap.String("type", typ), zap.Error(err))
	h.writeAdmin(w, status, adminResponse{Type: typ, RequestID: requestID, Error: err.Error()})
}

func decodeAdmin(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// QueryDocuments выполняет выборку документов коллекции.
func (h *Handler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	const typ = "query_response"

	var req queryRequest
	if err := decodeAdmin(w, r, &req); err != nil || req.Collection == "" {
		h.writeAdmin(w, http.StatusBadRequest, adminResponse{Type: typ, RequestID: req.RequestID, Error: "collection is required"})
		return
	}

	list, err := h.store.ListDocuments(r.Context(), req.Collection, req.Queries)
	if err != nil {
		h.writeAdminError(w, typ, req.RequestID, err)
		return
	}

	total := list.Total
	h.writeAdmin(w, http.StatusOK, adminResponse{
		Type:      typ,
		RequestID: req.RequestID,
		Success:   true,
		Data:      list.Documents,
		Total:     &total,
	})
}

// CreateDocument создаёт документ. Без document_id идентификатор генерируется сервером.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	const typ = "create_response"

	var req documentRequest
	if err := decodeAdmin(w, r, &req); err != nil || req.Collection == "" || req.DocumentData == nil {
		h.writeAdmin(w, http.StatusBadRequest, adminResponse{Type: typ, RequestID: req.RequestID, Error: "collection and document_data are required"})
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	doc, err := h.store.CreateDocument(r.Context(), req.Collection, req.DocumentID, req.DocumentData)
	if err != nil {
		h.writeAdminError(w, typ, req.RequestID, err)
		return
	}

	h.writeAdmin(w, http.StatusOK, adminResponse{Type: typ, RequestID: req.RequestID, Success: true, Data: doc})
}

// UpdateDocument частично обновляет документ.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	const typ = "update_response"

	var req documentRequest
	if err := decodeAdmin(w, r, &req); err != nil || req.Collection == "" || req.DocumentID == "" || req.DocumentData == nil {
		h.writeAdmin(w, http.StatusBadRequest, adminResponse{Type: typ, RequestID: req.RequestID, Error: "collection, document_id and document_data are required"})
		return
	}

	doc, err := h.store.UpdateDocument(r.Context(), req.Collection, req.DocumentID, req.DocumentData)
	if err != nil {
		h.writeAdminError(w, typ, req.RequestID, err)
		return
	}

	h.writeAdmin(w, http.StatusOK, adminResponse{Type: typ, RequestID: req.RequestID, Success: true, Data: doc})
}

type testDatabaseResponse struct {
	Status           string   `json:"status"`
	Message          string   `json:"message"`
	CollectionsFound int      `json:"collections_found"`
	CollectionNames  []string `json:"collection_names"`
	Timestamp        string   `json:"timestamp"`
}

// TestDatabase проверяет соединение с хранилищем и возвращает список коллекций.
func (h *Handler) TestDatabase(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListCollections(r.Context())
	if err != nil {
		h.logger.Warn("database test failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, testDatabaseResponse{
			Status:          "DATABASE_ERROR",
			Message:         err.Error(),
			CollectionNames: []string{},
			Timestamp:       h.timestamp(),
		})
		return
	}

	names := make([]string, 0, len(list.Collections))
	for _, c := range list.Collections {
		names = append(names, c.Name)
	}

	writeJSON(w, http.StatusOK, testDatabaseResponse{
		Status:           "DATABASE_SUCCESS",
		Message:          "Database connection successful",
		CollectionsFound: list.Total,
		CollectionNames:  names,
		Timestamp:        h.timestamp(),
	})
}
