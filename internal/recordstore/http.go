package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPStore talks to a remote record store over its REST API:
//
//	GET    {base}/entity_types
//	GET    {base}/entities/{type}
//	POST   {base}/entities/{type}
//	GET    {base}/entities/{type}/{id}
//	PUT    {base}/entities/{type}/{id}
//	DELETE {base}/entities/{type}/{id}
type HTTPStore struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// WithRateLimit throttles requests to reqPerSec with the given burst.
func WithRateLimit(reqPerSec float64, burst int) HTTPOption {
	return func(s *HTTPStore) {
		if reqPerSec > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(reqPerSec), burst)
		}
	}
}

// WithBreaker trips after maxFailures consecutive transport or 5xx failures and
// stays open for timeout.
func WithBreaker(maxFailures uint32, timeout time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "record-store",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				var se *StoreError
				if errors.As(err, &se) {
					return se.Status != 0 && se.Status < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.logger.Warn("record store breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *zap.Logger) HTTPOption {
	return func(s *HTTPStore) { s.logger = l }
}

// NewHTTPStore creates a client for the store rooted at baseURL (e.g. http://localhost:8000/api).
func NewHTTPStore(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.LoggerOrNop(s.logger)
	return s
}

// ListTypes returns the entity types the store knows.
func (s *HTTPStore) ListTypes(ctx context.Context) ([]string, error) {
	var types []string
	body, err := s.do(ctx, "list entity types", http.MethodGet, "/entity_types", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &types); err != nil {
		return nil, &StoreError{Op: "list entity types", Message: "malformed response", Err: err}
	}
	return types, nil
}

// List returns all records of entityType in store order.
func (s *HTTPStore) List(ctx context.Context, entityType string) ([]*models.Entity, error) {
	op := "list " + entityType
	body, err := s.do(ctx, op, http.MethodGet, entityPath(entityType, ""), nil)
	if err != nil {
		return nil, err
	}
	list, err := models.DecodeEntities(body, entityType)
	if err != nil {
		return nil, &StoreError{Op: op, Message: "malformed response", Err: err}
	}
	return list, nil
}

// Get returns one record.
func (s *HTTPStore) Get(ctx context.Context, entityType, id string) (*models.Entity, error) {
	op := fmt.Sprintf("get %s %s", entityType, id)
	body, err := s.do(ctx, op, http.MethodGet, entityPath(entityType, id), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(op, entityType, body)
}

// Create stores a new record and returns it with its assigned id.
func (s *HTTPStore) Create(ctx context.Context, entityType string, payload map[string]interface{}) (*models.Entity, error) {
	op := "create " + entityType
	body, err := s.do(ctx, op, http.MethodPost, entityPath(entityType, ""), payload)
	if err != nil {
		return nil, err
	}
	return decodeOne(op, entityType, body)
}

// Update merges payload into an existing record.
func (s *HTTPStore) Update(ctx context.Context, entityType, id string, payload map[string]interface{}) (*models.Entity, error) {
	op := fmt.Sprintf("update %s %s", entityType, id)
	body, err := s.do(ctx, op, http.MethodPut, entityPath(entityType, id), payload)
	if err != nil {
		return nil, err
	}
	return decodeOne(op, entityType, body)
}

// Delete removes a record. A successful delete returns no body.
func (s *HTTPStore) Delete(ctx context.Context, entityType, id string) error {
	_, err := s.do(ctx, fmt.Sprintf("delete %s %s", entityType, id), http.MethodDelete, entityPath(entityType, id), nil)
	return err
}

func entityPath(entityType, id string) string {
	p := "/entities/" + url.PathEscape(entityType)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func decodeOne(op, entityType string, body []byte) (*models.Entity, error) {
	e := models.NewEntity(entityType)
	if err := json.Unmarshal(body, e); err != nil {
		return nil, &StoreError{Op: op, Message: "malformed response", Err: err}
	}
	e.Type = entityType
	return e, nil
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &StoreError{Op: op, Message: "request throttled", Err: err}
		}
	}
	call := func() (interface{}, error) { return s.roundTrip(ctx, op, method, path, payload) }
	if s.breaker == nil {
		body, err := call()
		if err != nil {
			return nil, err
		}
		return body.([]byte), nil
	}
	body, err := s.breaker.Execute(call)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &StoreError{Op: op, Message: "record store unavailable, retry shortly", Err: err}
		}
		return nil, err
	}
	return body.([]byte), nil
}

func (s *HTTPStore) roundTrip(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &StoreError{Op: op, Message: "invalid payload", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, &StoreError{Op: op, Message: "invalid request", Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("record store request failed", zap.String("op", op), zap.Error(err))
		return nil, &StoreError{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}
	s.logger.Debug("record store request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return body, nil
}

// errorMessage extracts {"error": "..."} from a failed response, falling back to
// the raw JSON body and then to the status text.
func errorMessage(status int, body []byte) string {
	var structured struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error != "" {
		return structured.Error
	}
	trimmed := strings.TrimSpace(string(body))
	if json.Valid(body) && trimmed != "" && trimmed != "null" {
		return trimmed
	}
	return http.StatusText(status)
}
