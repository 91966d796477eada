package detection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The analyzer service takes a JPEG frame as a BytesValue and answers with
// a Struct shaped like AnalysisResponse.
const (
	analyzerService = "vigil.analysis.v1.FrameAnalyzer"
	analyzeMethod   = "/" + analyzerService + "/Analyze"
)

// FrameAnalyzerServer is implemented by inference services and test fakes.
type FrameAnalyzerServer interface {
	Analyze(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterFrameAnalyzerServer registers srv on s.
func RegisterFrameAnalyzerServer(s grpc.ServiceRegistrar, srv FrameAnalyzerServer) {
	s.RegisterService(&frameAnalyzerDesc, srv)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameAnalyzerServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FrameAnalyzerServer).Analyze(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var frameAnalyzerDesc = grpc.ServiceDesc{
	ServiceName: analyzerService,
	HandlerType: (*FrameAnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vigil/analysis/v1/analyzer.proto",
}
