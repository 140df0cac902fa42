// Package sns provides a router handler that forwards committed events to an
// AWS SNS topic for the query side.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/domain/restaurant"
)

// Client defines the subset of the SNS API used by the handler.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Message is the JSON body published for each event.
type Message struct {
	EventID       string            `json:"event_id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Sequence      uint64            `json:"sequence"`
	Type          string            `json:"type"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ForwardHandler publishes events of selected aggregate types.
// On FIFO topics messages are grouped by aggregate id and deduplicated by
// event id, so redelivered batches do not produce duplicates downstream.
type ForwardHandler struct {
	client         Client
	topicARN       string
	aggregateTypes map[string]bool
	fifo           bool
}

// Option configures a ForwardHandler.
type Option func(*ForwardHandler)

// WithAggregateTypes replaces the forwarded aggregate types.
// Default: restaurant.
func WithAggregateTypes(types ...string) Option {
	return func(h *ForwardHandler) {
		h.aggregateTypes = make(map[string]bool, len(types))
		for _, t := range types {
			h.aggregateTypes[t] = true
		}
	}
}

// WithFIFO sets MessageGroupId and MessageDeduplicationId on every message.
func WithFIFO(enabled bool) Option {
	return func(h *ForwardHandler) {
		h.fifo = enabled
	}
}

// NewForwardHandler creates a ForwardHandler publishing to topicARN.
func NewForwardHandler(client Client, topicARN string, opts ...Option) *ForwardHandler {
	h := &ForwardHandler{
		client:         client,
		topicARN:       topicARN,
		aggregateTypes: map[string]bool{restaurant.AggregateType: true},
		fifo:           true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns "sns-forward".
func (h *ForwardHandler) Name() string { return "sns-forward" }

// Interested selects the configured aggregate types.
func (h *ForwardHandler) Interested(rec adapters.EventRecord) bool {
	return h.aggregateTypes[rec.AggregateType]
}

// Handle publishes rec.
func (h *ForwardHandler) Handle(ctx context.Context, rec adapters.EventRecord) error {
	if h.client == nil {
		return fmt.Errorf("sns: client not configured")
	}

	payload := json.RawMessage(rec.Data)
	if !json.Valid(rec.Data) {
		encoded, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("sns: encode payload: %w", err)
		}
		payload = encoded
	}
	body, err := json.Marshal(Message{
		EventID:       rec.ID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Sequence:      rec.Sequence,
		Type:          rec.Type,
		Payload:       payload,
		Metadata:      rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("sns: encode message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(h.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event-type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.Type),
			},
			"aggregate-type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.AggregateType),
			},
		},
	}
	if h.fifo {
		input.MessageGroupId = aws.String(rec.AggregateID)
		input.MessageDeduplicationId = aws.String(rec.ID)
	}

	if _, err := h.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: failed to publish to %s: %w", h.topicARN, err)
	}
	return nil
}
