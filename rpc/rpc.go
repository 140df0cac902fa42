// Package rpc exposes the cart and order services over gRPC.
//
// Messages are google.protobuf.Struct values carrying the JSON shape of the
// router types, so no generated code is needed on either side. Trace context
// travels in gRPC metadata using the configured otel propagator.
package rpc

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/router"
	"github.com/AshkanYarmoradi/ordermesh/serializer/protobuf"
)

// Service and method names.
const (
	CartServiceName   = "ordermesh.cart.v1.CartService"
	OrderServiceName  = "ordermesh.order.v1.OrderService"
	GetCartMethod     = "/" + CartServiceName + "/GetCart"
	CreateOrderMethod = "/" + OrderServiceName + "/CreateOrder"
)

// GetCartRequest is the GetCart request body.
type GetCartRequest struct {
	CartID string `json:"cart_id"`
}

// CreateOrderResponse is the CreateOrder response body.
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

// MetadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type MetadataCarrier metadata.MD

func (c MetadataCarrier) Get(key string) string {
	v := metadata.MD(c).Get(key)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTrace returns ctx with the trace context of ctx added to the
// outgoing gRPC metadata.
func InjectTrace(ctx context.Context, prop propagation.TextMapPropagator) context.Context {
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	prop.Inject(ctx, MetadataCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

// ExtractTrace returns ctx carrying the trace context found in the incoming
// gRPC metadata.
func ExtractTrace(ctx context.Context, prop propagation.TextMapPropagator) context.Context {
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return prop.Extract(ctx, MetadataCarrier(md))
}

// StatusFromError maps the error taxonomy onto gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, ordermesh.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, ordermesh.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, ordermesh.ErrConflict):
		code = codes.Aborted
	case errors.Is(err, ordermesh.ErrCorruptState):
		code = codes.DataLoss
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, ordermesh.ErrTransport):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// ErrorFromStatus maps gRPC status codes back onto the error taxonomy.
// Unmapped codes are returned as transport errors.
func ErrorFromStatus(operation string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return ordermesh.NewTransportError(operation, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return ordermesh.NewNotFoundError(serviceOf(operation), st.Message())
	case codes.InvalidArgument:
		return ordermesh.NewValidationError(serviceOf(operation), errors.New(st.Message()))
	case codes.Aborted:
		return ordermesh.NewConflictError("", operation, errors.New(st.Message()))
	case codes.DeadlineExceeded:
		return ordermesh.NewTransportError(operation, context.DeadlineExceeded)
	default:
		return ordermesh.NewTransportError(operation, err)
	}
}

func serviceOf(method string) string {
	parts := strings.Split(strings.TrimPrefix(method, "/"), "/")
	return parts[0]
}

// CartServiceDesc describes the cart service. The registered server must
// implement router.CartClient.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: CartServiceName,
	HandlerType: (*router.CartClient)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetCart",
		Handler:    getCartHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ordermesh/cart/v1/cart.proto",
}

// OrderServiceDesc describes the order service. The registered server must
// implement router.OrderClient.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*router.OrderClient)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "CreateOrder",
		Handler:    createOrderHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ordermesh/order/v1/order.proto",
}

// RegisterCartService registers carts on s.
func RegisterCartService(s grpc.ServiceRegistrar, carts router.CartClient) {
	s.RegisterService(&CartServiceDesc, carts)
}

// RegisterOrderService registers orders on s.
func RegisterOrderService(s grpc.ServiceRegistrar, orders router.OrderClient) {
	s.RegisterService(&OrderServiceDesc, orders)
}

// TraceUnaryInterceptor continues the caller's trace in server handlers.
func TraceUnaryInterceptor(prop propagation.TextMapPropagator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(ExtractTrace(ctx, prop), req)
	}
}

func getCartHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		var body GetCartRequest
		if err := protobuf.FromStruct(req.(*structpb.Struct), &body); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		view, err := srv.(router.CartClient).GetCart(ctx, body.CartID)
		if err != nil {
			return nil, StatusFromError(err)
		}
		return protobuf.ToStruct(view)
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: GetCartMethod}, handler)
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		var body router.CreateOrderRequest
		if err := protobuf.FromStruct(req.(*structpb.Struct), &body); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		id, err := srv.(router.OrderClient).CreateOrder(ctx, body)
		if err != nil {
			return nil, StatusFromError(err)
		}
		return protobuf.ToStruct(CreateOrderResponse{OrderID: id})
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: CreateOrderMethod}, handler)
}
