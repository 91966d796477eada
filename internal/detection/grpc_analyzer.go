package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"vigil/internal/frame"
	"vigil/internal/metrics"
)

// GRPCConfig holds configuration for the gRPC analyzer
type GRPCConfig struct {
	Endpoint            string
	ConfidenceThreshold float64
	JPEGQuality         int
	// DialOptions are appended to the defaults, e.g. a bufconn dialer.
	DialOptions []grpc.DialOption
}

// GRPCAnalyzer calls the FrameAnalyzer service with unary requests.
type GRPCAnalyzer struct {
	cfg        GRPCConfig
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	healthy    bool
	lastHealth time.Time
	healthMu   sync.RWMutex
	logger     *slog.Logger
}

// NewGRPCAnalyzer creates the client connection. The connection is lazy, so
// an unreachable service surfaces on the first call.
func NewGRPCAnalyzer(cfg GRPCConfig, logger *slog.Logger) (*GRPCAnalyzer, error) {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer client: %w", err)
	}
	return &GRPCAnalyzer{
		cfg:    cfg,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.With("component", "analyzer", "analyzer", "grpc"),
	}, nil
}

// Name implements pipeline.Analyzer
func (g *GRPCAnalyzer) Name() string { return "grpc" }

// IsHealthy uses the standard gRPC health protocol, caching a positive
// answer for 30 seconds.
func (g *GRPCAnalyzer) IsHealthy(ctx context.Context) bool {
	g.healthMu.RLock()
	if time.Since(g.lastHealth) < healthCacheTTL && g.healthy {
		g.healthMu.RUnlock()
		return true
	}
	g.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: analyzerService})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if err != nil {
		g.logger.Warn("health check failed", "error", err)
	}

	g.healthMu.Lock()
	g.healthy = healthy
	g.lastHealth = time.Now()
	g.healthMu.Unlock()
	return healthy
}

// Analyze implements pipeline.Analyzer
func (g *GRPCAnalyzer) Analyze(ctx context.Context, img image.Image) (metrics.FrameContext, error) {
	data, err := frame.EncodeJPEG(img, g.cfg.JPEGQuality)
	if err != nil {
		return metrics.FrameContext{}, err
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, analyzeMethod, wrapperspb.Bytes(data), out); err != nil {
		g.healthMu.Lock()
		g.healthy = false
		g.healthMu.Unlock()
		return metrics.FrameContext{}, fmt.Errorf("analyze rpc: %w", err)
	}
	return decodeStruct(out, g.cfg.ConfidenceThreshold)
}

// decodeStruct maps the loosely typed Struct onto AnalysisResponse.
func decodeStruct(s *structpb.Struct, minConf float64) (metrics.FrameContext, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return metrics.FrameContext{}, err
	}
	var resp AnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return metrics.FrameContext{}, fmt.Errorf("decode analysis: %w", err)
	}
	return resp.FrameContext(minConf)
}

// Close implements pipeline.Analyzer
func (g *GRPCAnalyzer) Close() error {
	return g.conn.Close()
}
