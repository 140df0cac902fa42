// Package grpcclient implements the router's cart and order clients over gRPC.
package grpcclient

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AshkanYarmoradi/ordermesh/router"
	"github.com/AshkanYarmoradi/ordermesh/rpc"
	"github.com/AshkanYarmoradi/ordermesh/serializer/protobuf"
)

var (
	_ router.CartClient  = (*CartClient)(nil)
	_ router.OrderClient = (*OrderClient)(nil)
)

// Option configures a client.
type Option func(*options)

type options struct {
	propagator propagation.TextMapPropagator
}

// WithPropagator sets the propagator that writes trace context into the
// outgoing request metadata. The global propagator is used by default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) {
		o.propagator = p
	}
}

// Dial opens a plaintext connection to target.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/grpcclient: dial %s: %w", target, err)
	}
	return conn, nil
}

// CartClient calls the cart service.
type CartClient struct {
	conn grpc.ClientConnInterface
	opts options
}

// NewCartClient creates a CartClient on conn.
func NewCartClient(conn grpc.ClientConnInterface, opts ...Option) *CartClient {
	c := &CartClient{conn: conn}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// GetCart implements router.CartClient.
func (c *CartClient) GetCart(ctx context.Context, cartID string) (*router.CartView, error) {
	req, err := protobuf.ToStruct(rpc.GetCartRequest{CartID: cartID})
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(rpc.InjectTrace(ctx, c.opts.propagator), rpc.GetCartMethod, req, resp); err != nil {
		return nil, rpc.ErrorFromStatus(rpc.GetCartMethod, err)
	}

	var view router.CartView
	if err := protobuf.FromStruct(resp, &view); err != nil {
		return nil, fmt.Errorf("ordermesh/grpcclient: decode cart: %w", err)
	}
	return &view, nil
}

// OrderClient calls the order service.
type OrderClient struct {
	conn grpc.ClientConnInterface
	opts options
}

// NewOrderClient creates an OrderClient on conn.
func NewOrderClient(conn grpc.ClientConnInterface, opts ...Option) *OrderClient {
	c := &OrderClient{conn: conn}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// CreateOrder implements router.OrderClient.
func (c *OrderClient) CreateOrder(ctx context.Context, in router.CreateOrderRequest) (string, error) {
	req, err := protobuf.ToStruct(in)
	if err != nil {
		return "", err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(rpc.InjectTrace(ctx, c.opts.propagator), rpc.CreateOrderMethod, req, resp); err != nil {
		return "", rpc.ErrorFromStatus(rpc.CreateOrderMethod, err)
	}

	var out rpc.CreateOrderResponse
	if err := protobuf.FromStruct(resp, &out); err != nil {
		return "", fmt.Errorf("ordermesh/grpcclient: decode order: %w", err)
	}
	return out.OrderID, nil
}
