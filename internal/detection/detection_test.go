package detection

import (
	"context"
	"encoding/json"
	"image"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"vigil/internal/metrics"
)

var sample = AnalysisResponse{
	FaceLandmarks: [][]float64{{0.1, 0.2}, {0.3, 0.4, 0.01}},
	Detections: []WireDetection{
		{Class: "cell phone", ClassID: 67, Confidence: 0.8, BBox: []float64{1, 2, 3, 4}},
		{Class: "cup", ClassID: 41, Confidence: 0.2, BBox: []float64{1, 2, 3, 4}},
	},
}

func TestFrameContextConversion(t *testing.T) {
	fc, err := sample.FrameContext(0.3)
	require.NoError(t, err)
	require.Len(t, fc.FaceLandmarks, 2)
	assert.InDelta(t, 0.01, fc.FaceLandmarks[1].Z, 1e-12)
	require.Len(t, fc.ObjectDetections, 1)
	assert.Equal(t, metrics.Detection{ClassID: 67, Label: "cell phone", Confidence: 0.8, BBox: [4]float64{1, 2, 3, 4}}, fc.ObjectDetections[0])

	bad := AnalysisResponse{FaceLandmarks: [][]float64{{0.1}}}
	_, err = bad.FrameContext(0)
	assert.Error(t, err)

	badBox := AnalysisResponse{Detections: []WireDetection{{Class: "phone", Confidence: 1, BBox: []float64{1}}}}
	_, err = badBox.FrameContext(0)
	assert.Error(t, err)

	empty, err := (&AnalysisResponse{}).FrameContext(0)
	require.NoError(t, err)
	assert.False(t, empty.HasFace())
}

func frameImage() image.Image { return image.NewGray(image.Rect(0, 0, 8, 8)) }

func TestHTTPAnalyzer(t *testing.T) {
	var healthCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCalls.Add(1)
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", ModelLoaded: true})
	})
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		file.Close()
		assert.Equal(t, "0.300", r.FormValue("conf_threshold"))
		json.NewEncoder(w).Encode(sample)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHTTPAnalyzer(HTTPConfig{Endpoint: srv.URL, ConfidenceThreshold: 0.3}, nil)
	defer a.Close()

	for i := 0; i < 3; i++ {
		fc, err := a.Analyze(context.Background(), frameImage())
		require.NoError(t, err)
		assert.Len(t, fc.FaceLandmarks, 2)
	}
	assert.EqualValues(t, 1, healthCalls.Load(), "health is cached")
}

func TestHTTPAnalyzerErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResponse{Status: "loading", ModelLoaded: false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHTTPAnalyzer(HTTPConfig{Endpoint: srv.URL}, nil)
	_, err := a.Analyze(context.Background(), frameImage())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, a.IsHealthy(context.Background()))
}

type fakeAnalyzerServer struct {
	frames atomic.Int32
}

func (f *fakeAnalyzerServer) Analyze(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	f.frames.Add(1)
	raw, _ := json.Marshal(sample)
	var m map[string]any
	json.Unmarshal(raw, &m)
	return structpb.NewStruct(m)
}

func startGRPC(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (*GRPCAnalyzer, *fakeAnalyzerServer) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	fake := &fakeAnalyzerServer{}
	RegisterFrameAnalyzerServer(s, fake)
	hs := health.NewServer()
	hs.SetServingStatus(analyzerService, status)
	healthpb.RegisterHealthServer(s, hs)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	a, err := NewGRPCAnalyzer(GRPCConfig{
		Endpoint:            "passthrough:///bufnet",
		ConfidenceThreshold: 0.5,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, fake
}

func TestGRPCAnalyzer(t *testing.T) {
	a, fake := startGRPC(t, healthpb.HealthCheckResponse_SERVING)
	assert.True(t, a.IsHealthy(context.Background()))

	fc, err := a.Analyze(context.Background(), frameImage())
	require.NoError(t, err)
	assert.Len(t, fc.FaceLandmarks, 2)
	require.Len(t, fc.ObjectDetections, 1)
	assert.Equal(t, 67, fc.ObjectDetections[0].ClassID)
	assert.EqualValues(t, 1, fake.frames.Load())
}

func TestGRPCAnalyzerNotServing(t *testing.T) {
	a, _ := startGRPC(t, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, a.IsHealthy(context.Background()))
}
