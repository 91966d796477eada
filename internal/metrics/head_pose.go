package metrics

import (
	"math"

	"vigil/internal/geometry"
	"vigil/internal/smoothing"
)

// HeadPoseOutput reports deviation from the calibrated neutral pose.
// Yaw, Pitch and Roll are nil while no deviation can be computed.
type HeadPoseOutput struct {
	Yaw                 *float64 `json:"yaw"`
	Pitch               *float64 `json:"pitch"`
	Roll                *float64 `json:"roll"`
	YawAlert            bool     `json:"yaw_alert"`
	PitchAlert          bool     `json:"pitch_alert"`
	RollAlert           bool     `json:"roll_alert"`
	Alert               bool     `json:"head_pose_alert"`
	Sustained           float64  `json:"head_pose_sustained"`
	Calibrating         bool     `json:"calibrating"`
	CalibrationProgress float64  `json:"calibration_progress"`
}

func (o HeadPoseOutput) assign(m *MetricsOutput) { m.HeadPose = &o }

// HeadPoseDetector learns a neutral pose, then raises per-axis alerts on
// sustained deviation.
type HeadPoseDetector struct {
	limits            [3]float64
	calibrationFrames int
	sustainedFrames   int
	missingReset      int

	smoother *smoothing.Vector

	baseline     []float64
	baselineSum  [3]float64
	baselineN    int
	counters     [3]int
	missingCount int
}

// NewHeadPoseDetector validates cfg and converts durations at fps.
func NewHeadPoseDetector(cfg HeadPoseConfig, fps float64) (*HeadPoseDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sm, err := smoothing.NewVector(cfg.SmoothingAlpha, cfg.SmoothingMaxGap)
	if err != nil {
		return nil, err
	}
	return &HeadPoseDetector{
		limits:            [3]float64{cfg.YawLimit, cfg.PitchLimit, cfg.RollLimit},
		calibrationFrames: Frames(cfg.CalibrationSec, fps),
		sustainedFrames:   Frames(cfg.MinSustainedSec, fps),
		missingReset:      Frames(cfg.MissingResetSec, fps),
		smoother:          sm,
	}, nil
}

func (d *HeadPoseDetector) Name() string { return NameHeadPose }

func (d *HeadPoseDetector) Update(ctx FrameContext) (Output, error) {
	if !ctx.HasFace() {
		d.missingCount++
		if d.missingCount >= d.missingReset {
			d.ResetBaseline()
		}
		d.smoother.Update(nil)
		d.counters = [3]int{}
		return d.output(nil), nil
	}
	d.missingCount = 0

	var raw []float64
	if pose, ok := geometry.HeadPose(ctx.FaceLandmarks); ok {
		raw = pose.Slice()
	}
	pose := d.smoother.Update(raw)
	if pose == nil {
		d.counters = [3]int{}
		return d.output(nil), nil
	}

	if d.baseline == nil {
		for i := range d.baselineSum {
			d.baselineSum[i] += pose[i]
		}
		d.baselineN++
		if d.baselineN < d.calibrationFrames {
			return d.output(nil), nil
		}
		d.baseline = make([]float64, 3)
		for i := range d.baseline {
			d.baseline[i] = d.baselineSum[i] / float64(d.baselineN)
		}
	}

	dev := make([]float64, 3)
	for i := range dev {
		dev[i] = pose[i] - d.baseline[i]
		if math.Abs(dev[i]) > d.limits[i] {
			d.counters[i]++
		} else {
			d.counters[i] = 0
		}
	}
	return d.output(dev), nil
}

func (d *HeadPoseDetector) output(dev []float64) HeadPoseOutput {
	out := HeadPoseOutput{
		Calibrating:         d.baseline == nil,
		CalibrationProgress: sustained(d.baselineN, d.calibrationFrames),
	}
	if dev != nil {
		out.Yaw, out.Pitch, out.Roll = ptr(dev[0]), ptr(dev[1]), ptr(dev[2])
	}
	alerts := [3]*bool{&out.YawAlert, &out.PitchAlert, &out.RollAlert}
	for i, c := range d.counters {
		*alerts[i] = c >= d.sustainedFrames
		out.Alert = out.Alert || *alerts[i]
		if s := sustained(c, d.sustainedFrames); s > out.Sustained {
			out.Sustained = s
		}
	}
	return out
}

// ResetBaseline discards the neutral pose so the next frames recalibrate.
func (d *HeadPoseDetector) ResetBaseline() {
	d.baseline = nil
	d.baselineSum = [3]float64{}
	d.baselineN = 0
	d.counters = [3]int{}
	d.missingCount = 0
}

func (d *HeadPoseDetector) Reset() {
	d.smoother.Reset()
	d.ResetBaseline()
}
