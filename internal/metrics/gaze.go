package metrics

import (
	"vigil/internal/geometry"
	"vigil/internal/smoothing"
)

// GazeOutput is the per-frame gaze state. Ratios are the smoothed per-eye
// (x, y) iris positions when available.
type GazeOutput struct {
	GazeAlert     bool      `json:"gaze_alert"`
	GazeSustained float64   `json:"gaze_sustained"`
	GazeOnRoad    bool      `json:"gaze_on_road"`
	Calibrated    bool      `json:"calibrated"`
	LeftRatio     []float64 `json:"left_ratio,omitempty"`
	RightRatio    []float64 `json:"right_ratio,omitempty"`
}

func (o GazeOutput) assign(m *MetricsOutput) { m.Gaze = &o }

// eyeBaseline accumulates a running mean of one eye's ratio until enough
// samples are seen, then freezes.
type eyeBaseline struct {
	sum    [2]float64
	n      int
	center []float64
}

func (b *eyeBaseline) add(ratio []float64, need int) {
	if ratio == nil || b.center != nil {
		return
	}
	b.sum[0] += ratio[0]
	b.sum[1] += ratio[1]
	b.n++
	if b.n >= need {
		b.center = []float64{b.sum[0] / float64(b.n), b.sum[1] / float64(b.n)}
	}
}

// inRange reports whether ratio lies inside offsets around the baseline on
// axis. The second result is false when either side is unknown.
func (b *eyeBaseline) inRange(ratio []float64, axis int, offsets [2]float64) (bool, bool) {
	if ratio == nil || b.center == nil {
		return false, false
	}
	lo, hi := b.center[axis]+offsets[0], b.center[axis]+offsets[1]
	return ratio[axis] >= lo && ratio[axis] <= hi, true
}

// GazeDetector raises an alert when the iris leaves a window centered on a
// per-driver baseline for long enough.
type GazeDetector struct {
	hOffsets        [2]float64
	vOffsets        [2]float64
	sustainedFrames int
	calibFrames     int
	holdFrames      int
	missingReset    int
	eyeClosedEAR    float64

	left, right         *smoothing.Vector
	leftBase, rightBase eyeBaseline

	outOfRange   int
	alert        bool
	onRoad       bool
	missing      int
	holdLeft     int
	suspended    bool
	lastL, lastR []float64
}

// NewGazeDetector validates cfg and converts durations at fps.
func NewGazeDetector(cfg GazeConfig, fps float64) (*GazeDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	left, err := smoothing.NewVector(cfg.SmoothingAlpha, cfg.SmoothingMaxGap)
	if err != nil {
		return nil, err
	}
	right, err := smoothing.NewVector(cfg.SmoothingAlpha, cfg.SmoothingMaxGap)
	if err != nil {
		return nil, err
	}
	hold := 0
	if cfg.PostCalibrationHoldSec > 0 {
		hold = Frames(cfg.PostCalibrationHoldSec, fps)
	}
	return &GazeDetector{
		hOffsets:        offsets(cfg.HorizontalRange),
		vOffsets:        offsets(cfg.VerticalRange),
		sustainedFrames: Frames(cfg.MinSustainedSec, fps),
		calibFrames:     Frames(cfg.CalibrationSec, fps),
		holdFrames:      hold,
		missingReset:    Frames(cfg.MissingResetSec, fps),
		eyeClosedEAR:    cfg.EyeClosedEAR,
		left:            left,
		right:           right,
		onRoad:          true,
	}, nil
}

func offsets(r [2]float64) [2]float64 {
	c := (r[0] + r[1]) / 2
	return [2]float64{r[0] - c, r[1] - c}
}

func (d *GazeDetector) Name() string { return NameGaze }

func (d *GazeDetector) Update(ctx FrameContext) (Output, error) {
	d.lastL, d.lastR = nil, nil
	if !ctx.HasFace() {
		d.missing++
		if d.missing >= d.missingReset {
			d.ResetBaseline()
		}
		return d.output(), nil
	}
	d.missing = 0

	if d.suspended {
		d.resetAlert()
		return d.output(), nil
	}
	if d.holdLeft > 0 {
		d.holdLeft--
		d.resetAlert()
		return d.output(), nil
	}

	pts := ctx.FaceLandmarks
	if ear, ok := geometry.AverageEAR(pts); ok && ear <= d.eyeClosedEAR {
		d.resetAlert()
		return d.output(), nil
	}

	lRaw, _ := geometry.LeftGazeRatio(pts)
	rRaw, _ := geometry.RightGazeRatio(pts)
	l := d.left.Update(lRaw)
	r := d.right.Update(rRaw)
	d.lastL, d.lastR = l, r
	if l == nil && r == nil {
		d.resetAlert()
		return d.output(), nil
	}

	d.leftBase.add(l, d.calibFrames)
	d.rightBase.add(r, d.calibFrames)
	if !d.calibrated() {
		d.resetAlert()
		return d.output(), nil
	}

	hOK, vOK, known := true, true, false
	for _, c := range []struct {
		ratio []float64
		base  *eyeBaseline
	}{{l, &d.leftBase}, {r, &d.rightBase}} {
		if in, ok := c.base.inRange(c.ratio, 0, d.hOffsets); ok {
			known = true
			hOK = hOK && in
		}
		if in, ok := c.base.inRange(c.ratio, 1, d.vOffsets); ok {
			known = true
			vOK = vOK && in
		}
	}
	if !known {
		d.resetAlert()
		return d.output(), nil
	}

	d.onRoad = hOK && vOK
	if d.onRoad {
		d.outOfRange = 0
		d.alert = false
	} else {
		d.outOfRange++
	}
	if d.outOfRange >= d.sustainedFrames {
		d.alert = true
	}
	return d.output(), nil
}

func (d *GazeDetector) calibrated() bool {
	return d.leftBase.center != nil || d.rightBase.center != nil
}

func (d *GazeDetector) output() GazeOutput {
	return GazeOutput{
		GazeAlert:     d.alert,
		GazeSustained: sustained(d.outOfRange, d.sustainedFrames),
		GazeOnRoad:    d.onRoad,
		Calibrated:    d.calibrated(),
		LeftRatio:     d.lastL,
		RightRatio:    d.lastR,
	}
}

func (d *GazeDetector) resetAlert() {
	d.outOfRange = 0
	d.alert = false
	d.onRoad = true
}

// ResetBaseline discards both eye baselines and the alert state.
func (d *GazeDetector) ResetBaseline() {
	d.leftBase = eyeBaseline{}
	d.rightBase = eyeBaseline{}
	d.missing = 0
	d.resetAlert()
}

// SuspendCalibration stops evaluation until ResumeAfterCalibration.
func (d *GazeDetector) SuspendCalibration() {
	d.suspended = true
}

// ResumeAfterCalibration re-enables evaluation after a hold period during
// which alerts stay off.
func (d *GazeDetector) ResumeAfterCalibration() {
	d.suspended = false
	d.holdLeft = d.holdFrames
}

// OnCalibratingEntered is called once when head pose calibration starts.
func (d *GazeDetector) OnCalibratingEntered() {
	d.ResetBaseline()
	d.SuspendCalibration()
}

// OnCalibratingExited is called once when head pose calibration ends.
func (d *GazeDetector) OnCalibratingExited() {
	d.ResetBaseline()
	d.ResumeAfterCalibration()
}

func (d *GazeDetector) Reset() {
	d.left.Reset()
	d.right.Reset()
	d.holdLeft = 0
	d.suspended = false
	d.lastL, d.lastR = nil, nil
	d.ResetBaseline()
}
