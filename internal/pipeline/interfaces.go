package pipeline

import (
	"context"
	"image"

	"vigil/internal/metrics"
)

// Analyzer is the external landmark and object detector. Implementations
// wrap a remote inference service.
type Analyzer interface {
	// Name returns the analyzer identifier (e.g. "grpc", "http")
	Name() string

	// IsHealthy returns true if the analyzer is reachable
	IsHealthy(ctx context.Context) bool

	// Analyze runs inference on one frame
	Analyze(ctx context.Context, img image.Image) (metrics.FrameContext, error)

	// Close releases analyzer resources
	Close() error
}

// ResultHandler receives per-frame results from the event bus.
type ResultHandler interface {
	OnFrameResult(result *FrameResult)
}

// ResultHandlerFunc adapts a function to ResultHandler.
type ResultHandlerFunc func(result *FrameResult)

// OnFrameResult calls f.
func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) { f(result) }
