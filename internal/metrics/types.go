// Package metrics turns per-frame landmark and object detections into
// debounced driver-state signals.
package metrics

import "vigil/internal/geometry"

// Detector names, also the keys of MetricsOutput.
const (
	NameEyeClosure = "eye_closure"
	NameYawn       = "yawn"
	NameHeadPose   = "head_pose"
	NameGaze       = "gaze"
	NamePhoneUsage = "phone_usage"
)

// Detection is one object detection reported by the external detector.
// BBox is [x1, y1, x2, y2] in pixels of the analyzed frame.
type Detection struct {
	ClassID    int        `json:"class_id"`
	Label      string     `json:"label,omitempty"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// FrameContext is the read-only input every detector sees for one frame.
// A nil FaceLandmarks slice means no face was found.
type FrameContext struct {
	FaceLandmarks    []geometry.Point `json:"face_landmarks,omitempty"`
	ObjectDetections []Detection      `json:"object_detections,omitempty"`
}

// HasFace reports whether landmarks are present.
func (c FrameContext) HasFace() bool {
	return len(c.FaceLandmarks) > 0
}

// Detector is the capability shared by every per-signal detector.
type Detector interface {
	// Name returns the output key of this detector
	Name() string

	// Update advances the detector state by one frame
	Update(ctx FrameContext) (Output, error)

	// Reset drops all accumulated state
	Reset()
}

// Output is a typed per-detector result that knows its slot in MetricsOutput.
type Output interface {
	assign(m *MetricsOutput)
}

// MetricsOutput is the per-frame result. A detector that failed this frame
// leaves its field nil.
type MetricsOutput struct {
	FaceMissing bool              `json:"face_missing"`
	EyeClosure  *EyeClosureOutput `json:"eye_closure,omitempty"`
	Yawn        *YawnOutput       `json:"yawn,omitempty"`
	HeadPose    *HeadPoseOutput   `json:"head_pose,omitempty"`
	Gaze        *GazeOutput       `json:"gaze,omitempty"`
	PhoneUsage  *PhoneUsageOutput `json:"phone_usage,omitempty"`
}

// Alert names reported by ActiveAlerts.
const (
	AlertFaceMissing = "face_missing"
	AlertEyeClosed   = "eye_closed"
	AlertPERCLOS     = "perclos"
	AlertYawn        = "yawn"
	AlertYawnRate    = "yawn_rate"
	AlertHeadPose    = "head_pose"
	AlertGaze        = "gaze"
	AlertPhoneUsage  = "phone_usage"
)

// AllAlerts lists every alert name in a stable order.
var AllAlerts = []string{
	AlertFaceMissing, AlertEyeClosed, AlertPERCLOS, AlertYawn,
	AlertYawnRate, AlertHeadPose, AlertGaze, AlertPhoneUsage,
}

// ActiveAlerts returns the alerts raised in this frame, in AllAlerts order.
func (m MetricsOutput) ActiveAlerts() []string {
	var out []string
	add := func(name string, on bool) {
		if on {
			out = append(out, name)
		}
	}
	add(AlertFaceMissing, m.FaceMissing)
	if m.EyeClosure != nil {
		add(AlertEyeClosed, m.EyeClosure.EyeClosed)
		add(AlertPERCLOS, m.EyeClosure.PERCLOSAlert)
	}
	if m.Yawn != nil {
		add(AlertYawn, m.Yawn.Yawning)
		add(AlertYawnRate, m.Yawn.YawnRateAlert)
	}
	if m.HeadPose != nil {
		add(AlertHeadPose, m.HeadPose.Alert)
	}
	if m.Gaze != nil {
		add(AlertGaze, m.Gaze.GazeAlert)
	}
	if m.PhoneUsage != nil {
		add(AlertPhoneUsage, m.PhoneUsage.PhoneUsage)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
