// Package docstore предоставляет клиент для документного хранилища с REST API
// в формате Appwrite, в котором хранятся записи абонентов.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Config содержит параметры подключения к хранилищу.
type Config struct {
	Endpoint   string
	ProjectID  string
	DatabaseID string
	APIKey     string
	Timeout    time.Duration
}

// Client инкапсулирует HTTP-взаимодействие с документным хранилищем.
type Client struct {
	baseURL    string
	projectID  string
	databaseID string
	apiKey     string
	httpClient *http.Client
}

// Document описывает произвольный документ хранилища, включая служебные поля ($id и т.п.).
type Document map[string]any

// ID возвращает идентификатор документа.
func (d Document) ID() string {
	id, _ := d["$id"].(string)
	return id
}

// DocumentList описывает ответ на запрос списка документов.
type DocumentList struct {
	Total     int        `json:"total"`
	Documents []Document `json:"documents"`
}

// Collection описывает коллекцию базы данных.
type Collection struct {
	ID   string `json:"$id"`
	Name string `json:"name"`
}

// CollectionList описывает ответ на запрос списка коллекций.
type CollectionList struct {
	Total       int          `json:"total"`
	Collections []Collection `json:"collections"`
}

// StatusError возвращается, если хранилище ответило статусом вне диапазона 2xx.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, e.Message)
}

// NewClient создаёт клиент хранилища. Используется пул соединений go-cleanhttp.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    base,
		projectID:  cfg.ProjectID,
		databaseID: cfg.DatabaseID,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// Equal строит запрос на точное совпадение атрибута.
func Equal(attribute, value string) string {
	return fmt.Sprintf("equal(%q,%q)", attribute, value)
}

// Limit строит запрос на ограничение числа документов в ответе.
func Limit(n int) string {
	return fmt.Sprintf("limit(%d)", n)
}

// ListDocuments возвращает документы коллекции, удовлетворяющие запросам.
func (c *Client) ListDocuments(ctx context.Context, collection string, queries []string) (*DocumentList, error) {
	var q url.Values
	if len(queries) > 0 {
		q = url.Values{"queries[]": queries}
	}

	var res DocumentList
	if err := c.do(ctx, http.MethodGet, c.documentsPath(collection), q, nil, &res); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return &res, nil
}

// CreateDocument создаёт документ. Пустой documentID означает генерацию идентификатора хранилищем.
func (c *Client) CreateDocument(ctx context.Context, collection, documentID string, data map[string]any) (Document, error) {
	if documentID == "" {
		documentID = "unique()"
	}
	body := map[string]any{
		"documentId": documentID,
		"data":       data,
	}

	var res Document
	if err := c.do(ctx, http.MethodPost, c.documentsPath(collection), nil, body, &res); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return res, nil
}

// UpdateDocument частично обновляет документ.
func (c *Client) UpdateDocument(ctx context.Context, collection, documentID string, data map[string]any) (Document, error) {
	body := map[string]any{"data": data}

	var res Document
	path := c.documentsPath(collection) + "/" + url.PathEscape(documentID)
	if err := c.do(ctx, http.MethodPatch, path, nil, body, &res); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return res, nil
}

// ListCollections возвращает коллекции базы данных. Используется для проверки связи с хранилищем.
func (c *Client) ListCollections(ctx context.Context) (*CollectionList, error) {
	var res CollectionList
	path := "/databases/" + url.PathEscape(c.databaseID) + "/collections"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &res); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return &res, nil
}

// Ping проверяет доступность хранилища.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListCollections(ctx)
	return err
}

func (c *Client) documentsPath(collection string) string {
	return "/databases/" + url.PathEscape(c.databaseID) +
		"/collections/" + url.PathEscape(collection) + "/documents"
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("document store client not configured")
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Appwrite-Project", c.projectID)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTransient сообщает, имеет ли смысл повторить запрос: сетевые ошибки,
// таймауты, 5xx и 429. Отмена контекста вызывающим не считается временной ошибкой.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
