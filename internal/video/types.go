package video

import "vigil/internal/metrics"

// Resolution is the analyzed frame size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameResult is the outcome of one sampled frame.
type FrameResult struct {
	FrameIndex    int                   `json:"frame_index"`
	TimeOffsetSec float64               `json:"time_offset_sec"`
	Timestamp     string                `json:"timestamp"`
	Resolution    Resolution            `json:"resolution"`
	FaceLandmarks []float64             `json:"face_landmarks,omitempty"` // x1, y1, x2, y2, ...
	Metrics       metrics.MetricsOutput `json:"metrics"`
}

// Metadata describes the processed video.
type Metadata struct {
	Filename        string   `json:"filename,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	SizeBytes       int64    `json:"size_bytes"`
	Codec           string   `json:"codec,omitempty"`
	FPS             *float64 `json:"fps"`
	TargetFPS       int      `json:"target_fps"`
	DurationSeconds *float64 `json:"duration_seconds"`
	TotalFrames     *int     `json:"total_frames"`
	Width           *int     `json:"width"`
	Height          *int     `json:"height"`
	ProcessedFrames int      `json:"processed_frames"`
	MaxWidth        int      `json:"max_width"`
	Summary         *Summary `json:"summary,omitempty"`
}

// Response is the result of a batch job. ProcessedFrames always equals
// len(Frames) and Frames are ordered by FrameIndex.
type Response struct {
	VideoMetadata Metadata      `json:"video_metadata"`
	Frames        []FrameResult `json:"frames"`
}

func optional[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
