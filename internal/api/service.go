package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dsanalyzer.v1.Analyzer"

const (
	analyzeMethod     = "/" + ServiceName + "/Analyze"
	getReportMethod   = "/" + ServiceName + "/GetReport"
	listReportsMethod = "/" + ServiceName + "/ListReports"
)

// AnalyzerServer is the server API for the Analyzer service. Payloads are
// google.protobuf.Struct documents; see handlers.go for their shape.
type AnalyzerServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReports(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAnalyzerServer attaches srv to a gRPC registrar.
func RegisterAnalyzerServer(s grpc.ServiceRegistrar, srv AnalyzerServer) {
	s.RegisterService(&analyzerServiceDesc, srv)
}

var analyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unaryHandler(analyzeMethod, AnalyzerServer.Analyze)},
		{MethodName: "GetReport", Handler: unaryHandler(getReportMethod, AnalyzerServer.GetReport)},
		{MethodName: "ListReports", Handler: unaryHandler(listReportsMethod, AnalyzerServer.ListReports)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dsanalyzer/v1/analyzer.proto",
}

type structMethod func(AnalyzerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalyzerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalyzerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AnalyzerClient calls the Analyzer service.
type AnalyzerClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalyzerClient wraps a client connection.
func NewAnalyzerClient(cc grpc.ClientConnInterface) *AnalyzerClient {
	return &AnalyzerClient{cc: cc}
}

func (c *AnalyzerClient) Analyze(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, analyzeMethod, in, opts...)
}

func (c *AnalyzerClient) GetReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getReportMethod, in, opts...)
}

func (c *AnalyzerClient) ListReports(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, listReportsMethod, in, opts...)
}

func (c *AnalyzerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
