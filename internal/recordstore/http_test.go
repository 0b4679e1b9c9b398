package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *HTTPStore {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewHTTPStore(ts.URL+"/api", 2*time.Second)
}

func TestHTTPStoreList(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/entities/requirements", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"REQ001","name":"Login","description":"d"}]`)
	})
	list, err := s.List(context.Background(), "requirements")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "REQ001", list[0].ID)
	assert.Equal(t, "requirements", list[0].Type)
	assert.Equal(t, []string{"id", "name", "description"}, list[0].Keys)
}

func TestHTTPStoreListTypes(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/entity_types", r.URL.Path)
		_, _ = io.WriteString(w, `["stakeholders","requirements"]`)
	})
	types, err := s.ListTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stakeholders", "requirements"}, types)
}

func TestHTTPStoreErrorBody(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Entity type 'x' not found."}`)
	})
	_, err := s.List(context.Background(), "x")
	require.Error(t, err)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, "Entity type 'x' not found.", se.Message)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHTTPStoreErrorWithoutBody(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := s.List(context.Background(), "requirements")
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Internal Server Error", se.Message)
}

func TestHTTPStoreCreateAndUpdate(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		switch r.Method {
		case http.MethodPost:
			payload["id"] = "REQ002"
			w.WriteHeader(http.StatusCreated)
		case http.MethodPut:
			assert.True(t, strings.HasSuffix(r.URL.Path, "/REQ002"))
			payload["id"] = "REQ002"
		}
		_ = json.NewEncoder(w).Encode(payload)
	})

	e, err := s.Create(context.Background(), "requirements", map[string]interface{}{"name": "New"})
	require.NoError(t, err)
	assert.Equal(t, "REQ002", e.ID)

	e, err = s.Update(context.Background(), "requirements", "REQ002", map[string]interface{}{"name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", e.Text("name"))
}

func TestHTTPStoreDeleteNoContent(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, s.Delete(context.Background(), "requirements", "REQ001"))
}

func TestHTTPStoreBreakerOpens(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	s := NewHTTPStore(ts.URL, time.Second, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := s.List(context.Background(), "requirements")
		require.Error(t, err)
	}
	_, err := s.List(context.Background(), "requirements")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPStoreNotFoundDoesNotTripBreaker(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	s := NewHTTPStore(ts.URL, time.Second, WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := s.Get(context.Background(), "requirements", "REQ404")
		assert.True(t, errors.Is(err, ErrNotFound))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage(400, []byte(`{"error":"boom"}`)))
	assert.Equal(t, `{"detail":"x"}`, errorMessage(400, []byte(`{"detail":"x"}`)))
	assert.Equal(t, "Bad Request", errorMessage(400, []byte("<html>")))
	assert.Equal(t, "Not Found", errorMessage(404, nil))
}
