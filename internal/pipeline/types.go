package pipeline

import (
	"time"

	"vigil/internal/metrics"
)

// FrameResult is the outcome of one live frame.
type FrameResult struct {
	ClientID  string
	FrameSeq  uint64
	Timestamp time.Time
	Metrics   metrics.MetricsOutput
	// Latency covers analysis and metric computation
	Latency time.Duration
	// AnalyzerFailed is set when the frame was evaluated without detections
	AnalyzerFailed bool
}

// MetricsMessage is the data channel payload for one frame.
type MetricsMessage struct {
	Type      string                `json:"type"` // "metrics"
	Frame     uint64                `json:"frame"`
	Timestamp float64               `json:"timestamp"` // unix seconds
	Metrics   metrics.MetricsOutput `json:"metrics"`
}

// NewMetricsMessage converts a result to its wire form.
func NewMetricsMessage(r *FrameResult) *MetricsMessage {
	return &MetricsMessage{
		Type:      "metrics",
		Frame:     r.FrameSeq,
		Timestamp: float64(r.Timestamp.UnixNano()) / 1e9,
		Metrics:   r.Metrics,
	}
}
