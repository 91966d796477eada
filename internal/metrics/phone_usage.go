package metrics

import "strings"

// COCOCellPhone is the COCO class id for "cell phone".
const COCOCellPhone = 67

// PhoneUsageOutput is the per-frame phone state.
type PhoneUsageOutput struct {
	PhoneDetected       bool    `json:"phone_detected"`
	Confidence          float64 `json:"confidence"`
	PhoneUsage          bool    `json:"phone_usage"`
	PhoneUsageSustained float64 `json:"phone_usage_sustained"`
}

func (o PhoneUsageOutput) assign(m *MetricsOutput) { m.PhoneUsage = &o }

// PhoneUsageDetector counts consecutive frames with a confident phone
// detection. A single frame without one resets the count.
type PhoneUsageDetector struct {
	threshold float64
	minFrames int
	counter   int
}

// NewPhoneUsageDetector validates cfg and converts durations at fps.
func NewPhoneUsageDetector(cfg PhoneUsageConfig, fps float64) (*PhoneUsageDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PhoneUsageDetector{
		threshold: cfg.ConfidenceThreshold,
		minFrames: Frames(cfg.MinDurationSec, fps),
	}, nil
}

func (d *PhoneUsageDetector) Name() string { return NamePhoneUsage }

// IsPhone reports whether a detection names a phone. Labelled detections
// are matched by label; unlabelled ones by COCO class id.
func IsPhone(det Detection) bool {
	if det.Label != "" {
		l := strings.ToLower(strings.TrimSpace(det.Label))
		return l == "phone" || l == "cell phone" || l == "cellphone" || l == "mobile phone"
	}
	return det.ClassID == COCOCellPhone
}

func (d *PhoneUsageDetector) Update(ctx FrameContext) (Output, error) {
	best := 0.0
	found := false
	for _, det := range ctx.ObjectDetections {
		if IsPhone(det) && det.Confidence >= d.threshold {
			found = true
			if det.Confidence > best {
				best = det.Confidence
			}
		}
	}

	if found {
		d.counter++
	} else {
		d.counter = 0
	}
	return PhoneUsageOutput{
		PhoneDetected:       found,
		Confidence:          best,
		PhoneUsage:          d.counter >= d.minFrames,
		PhoneUsageSustained: sustained(d.counter, d.minFrames),
	}, nil
}

func (d *PhoneUsageDetector) Reset() {
	d.counter = 0
}
