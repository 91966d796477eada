// Package detection adapts remote landmark and object inference services to
// the pipeline's Analyzer interface.
package detection

import (
	"errors"
	"fmt"

	"vigil/internal/geometry"
	"vigil/internal/metrics"
)

// ErrUnavailable is returned while the inference service is unhealthy.
var ErrUnavailable = errors.New("analyzer unavailable")

// WireDetection is one object detection as returned by the service.
type WireDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// AnalysisResponse is the body shared by the HTTP and gRPC services.
type AnalysisResponse struct {
	// FaceLandmarks holds normalized [x, y] or [x, y, z] points of the
	// first face, empty when no face was found.
	FaceLandmarks   [][]float64     `json:"face_landmarks"`
	Detections      []WireDetection `json:"detections"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
}

// HealthResponse is the HTTP service health body.
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// FrameContext converts the response, dropping detections below minConf.
func (r *AnalysisResponse) FrameContext(minConf float64) (metrics.FrameContext, error) {
	var fc metrics.FrameContext
	if len(r.FaceLandmarks) > 0 {
		fc.FaceLandmarks = make([]geometry.Point, len(r.FaceLandmarks))
		for i, p := range r.FaceLandmarks {
			switch len(p) {
			case 2:
				fc.FaceLandmarks[i] = geometry.Point{X: p[0], Y: p[1]}
			case 3:
				fc.FaceLandmarks[i] = geometry.Point{X: p[0], Y: p[1], Z: p[2]}
			default:
				return metrics.FrameContext{}, fmt.Errorf("landmark %d has %d coordinates", i, len(p))
			}
		}
	}
	for _, d := range r.Detections {
		if d.Confidence < minConf {
			continue
		}
		if len(d.BBox) != 4 {
			return metrics.FrameContext{}, fmt.Errorf("detection %q has %d bbox values", d.Class, len(d.BBox))
		}
		fc.ObjectDetections = append(fc.ObjectDetections, metrics.Detection{
			ClassID:    d.ClassID,
			Label:      d.Class,
			Confidence: d.Confidence,
			BBox:       [4]float64{d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]},
		})
	}
	return fc, nil
}
