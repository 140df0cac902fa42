package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/router"
)

func record() adapters.EventRecord {
	return adapters.EventRecord{
		ID:            "e-1",
		AggregateID:   "r-1",
		AggregateType: "restaurant",
		Sequence:      3,
		Type:          "RestaurantMenuChangedV1",
		Data:          []byte(`{"items":2}`),
		Metadata:      map[string]string{"traceparent": "00-abc-def-01"},
		Timestamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type capture struct {
	mu      sync.Mutex
	headers http.Header
	body    []byte
	calls   int
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.headers = r.Header.Clone()
		c.body = body
		c.calls++
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestForwardHandler_Handle(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusAccepted)

	h := NewForwardHandler(srv.URL, WithDefaultHeaders(map[string]string{"Authorization": "Bearer token"}))
	require.NoError(t, h.Handle(context.Background(), record()))

	assert.Equal(t, 1, c.calls)
	assert.Equal(t, "application/json", c.headers.Get("Content-Type"))
	assert.Equal(t, "Bearer token", c.headers.Get("Authorization"))
	assert.Equal(t, "e-1", c.headers.Get("Idempotency-Key"))
	assert.Equal(t, "00-abc-def-01", c.headers.Get("traceparent"))
	assert.Equal(t, "RestaurantMenuChangedV1", c.headers.Get(HeaderPrefix+"event_type"))

	var msg Message
	require.NoError(t, json.Unmarshal(c.body, &msg))
	assert.Equal(t, "e-1", msg.EventID)
	assert.Equal(t, uint64(3), msg.Sequence)
	assert.JSONEq(t, `{"items":2}`, string(msg.Data))
}

func TestForwardHandler_Failures(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusMovedPermanently} {
		var c capture
		srv := c.server(t, status)

		h := NewForwardHandler(srv.URL, WithHTTPClient(&http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}))
		assert.Error(t, h.Handle(context.Background(), record()), status)
	}

	h := NewForwardHandler("http://127.0.0.1:1")
	assert.Error(t, h.Handle(context.Background(), record()))
}

func TestForwardHandler_Interested(t *testing.T) {
	all := NewForwardHandler("http://example.com")
	assert.True(t, all.Interested(record()))

	carts := NewForwardHandler("http://example.com", WithAggregateTypes("cart"))
	assert.False(t, carts.Interested(record()))
	assert.Equal(t, "webhook-forward", carts.Name())
}

func TestToMessage_BinaryPayload(t *testing.T) {
	rec := record()
	rec.Data = []byte{0x82, 0xa1}

	msg := toMessage(rec)
	assert.True(t, json.Valid(msg.Data))
}

func TestForwardHandler_InRouter(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusOK)

	r := router.New(router.WithHandler(NewForwardHandler(srv.URL)))
	require.NoError(t, r.HandleBatch(context.Background(), []adapters.EventRecord{record()}))
	assert.Equal(t, 1, c.calls)
}
