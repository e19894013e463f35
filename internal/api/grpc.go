package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tradeforge/internal/backtest"
)

// The Backtest service carries the same JSON documents as the HTTP API,
// wrapped in google.protobuf.Struct:
//
//	service Backtest {
//	  rpc Run(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
const (
	BacktestServiceName = "tradeforge.v1.Backtest"
	backtestRunMethod   = "/" + BacktestServiceName + "/Run"
)

// BacktestServer is the server API for the Backtest service.
type BacktestServer interface {
	Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&backtestServiceDesc, srv)
}

func backtestRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: backtestRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: backtestRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradeforge/v1/backtest.proto",
}

// backtestService runs backtests through the same path as the HTTP API.
type backtestService struct {
	srv *Server
}

var _ BacktestServer = (*backtestService)(nil)

func (b *backtestService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var cfg backtest.Config
	if err := fromStruct(in, &cfg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding backtest config: %v", err)
	}
	res, err := b.srv.runBacktest(ctx, cfg)
	if err != nil {
		return nil, status.Error(codeFor(err), err.Error())
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return out, nil
}

func codeFor(err error) codes.Code {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient calls the Backtest service.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient creates a client over cc.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

// Run invokes Backtest/Run with a raw document.
func (c *BacktestClient) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, backtestRunMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RunConfig encodes cfg, runs it remotely and decodes the result.
func (c *BacktestClient) RunConfig(ctx context.Context, cfg backtest.Config, opts ...grpc.CallOption) (*backtest.Result, error) {
	in, err := toStruct(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding backtest config: %w", err)
	}
	out, err := c.Run(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := fromStruct(out, &res); err != nil {
		return nil, fmt.Errorf("decoding backtest result: %w", err)
	}
	return &res, nil
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
