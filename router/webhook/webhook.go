// Package webhook forwards committed events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/router"
	"github.com/AshkanYarmoradi/ordermesh/stream"
)

var _ router.Handler = (*ForwardHandler)(nil)

// HeaderPrefix prefixes the record headers copied onto each request.
// Trace context keys such as traceparent are copied without it.
const HeaderPrefix = "X-Ordermesh-"

// Message is the JSON body posted for each event.
type Message struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Sequence      uint64          `json:"sequence"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ForwardHandler POSTs every record it is interested in to one URL.
// A transport failure or a non-2xx reply fails the record, and with it the
// batch, so the receiver must tolerate repeats; Idempotency-Key carries the
// event ID for that purpose.
type ForwardHandler struct {
	client         *http.Client
	url            string
	aggregateTypes map[string]bool
	defaultHeaders map[string]string
}

// Option configures a ForwardHandler.
type Option func(*ForwardHandler)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *ForwardHandler) {
		h.client = client
	}
}

// WithDefaultHeaders sets headers added to every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(h *ForwardHandler) {
		for k, v := range headers {
			h.defaultHeaders[k] = v
		}
	}
}

// WithAggregateTypes limits forwarding to the named aggregate types.
// By default every record is forwarded.
func WithAggregateTypes(types ...string) Option {
	return func(h *ForwardHandler) {
		h.aggregateTypes = make(map[string]bool, len(types))
		for _, t := range types {
			h.aggregateTypes[t] = true
		}
	}
}

// NewForwardHandler creates a ForwardHandler posting to url.
func NewForwardHandler(url string, opts ...Option) *ForwardHandler {
	h := &ForwardHandler{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns "webhook-forward".
func (h *ForwardHandler) Name() string { return "webhook-forward" }

// Interested reports whether rec has one of the configured aggregate types.
func (h *ForwardHandler) Interested(rec adapters.EventRecord) bool {
	return h.aggregateTypes == nil || h.aggregateTypes[rec.AggregateType]
}

// Handle posts rec.
func (h *ForwardHandler) Handle(ctx context.Context, rec adapters.EventRecord) error {
	body, err := json.Marshal(toMessage(rec))
	if err != nil {
		return fmt.Errorf("webhook: failed to encode %s: %w", rec.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}
	for k, v := range h.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range stream.Headers(rec) {
		if _, meta := rec.Metadata[k]; meta {
			req.Header.Set(k, v)
			continue
		}
		req.Header.Set(HeaderPrefix+k, v)
	}
	req.Header.Set("Idempotency-Key", rec.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed for %s: %w", h.url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: server error %d from %s", resp.StatusCode, h.url)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d from %s", resp.StatusCode, h.url)
	}
	return nil
}

func toMessage(rec adapters.EventRecord) Message {
	data := json.RawMessage(rec.Data)
	if !json.Valid(data) {
		// Non-JSON payloads (msgpack, protobuf) are sent base64 encoded.
		encoded, _ := json.Marshal(rec.Data)
		data = encoded
	}
	return Message{
		EventID:       rec.ID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Sequence:      rec.Sequence,
		Type:          rec.Type,
		Data:          data,
		Timestamp:     rec.Timestamp,
	}
}
