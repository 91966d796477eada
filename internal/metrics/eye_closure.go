package metrics

import (
	"vigil/internal/geometry"
	"vigil/internal/smoothing"
)

// EyeClosureOutput is the per-frame eye state.
type EyeClosureOutput struct {
	EAR                *float64 `json:"ear"`
	EyeClosed          bool     `json:"eye_closed"`
	EyeClosedSustained float64  `json:"eye_closed_sustained"`
	PERCLOS            float64  `json:"perclos"`
	PERCLOSAlert       bool     `json:"perclos_alert"`
}

func (o EyeClosureOutput) assign(m *MetricsOutput) { m.EyeClosure = &o }

// EyeClosureDetector tracks EAR with hysteresis and PERCLOS over a rolling
// window of per-frame closed decisions.
type EyeClosureDetector struct {
	openThreshold    float64
	closeThreshold   float64
	minClosedFrames  int
	perclosThreshold float64

	smoother *smoothing.EMA
	window   *boolWindow

	closedFrame   bool // per-frame decision, held inside the band
	closedCounter int
	eyeClosed     bool
}

// NewEyeClosureDetector validates cfg and converts durations at fps.
func NewEyeClosureDetector(cfg EyeClosureConfig, fps float64) (*EyeClosureDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sm, err := smoothing.NewEMA(cfg.SmoothingAlpha, cfg.SmoothingMaxGap)
	if err != nil {
		return nil, err
	}
	return &EyeClosureDetector{
		openThreshold:    cfg.OpenThreshold,
		closeThreshold:   cfg.CloseThreshold(),
		minClosedFrames:  Frames(cfg.MinClosedSec, fps),
		perclosThreshold: cfg.PERCLOSThreshold,
		smoother:         sm,
		window:           newBoolWindow(Frames(cfg.PERCLOSWindowSec, fps)),
	}, nil
}

func (d *EyeClosureDetector) Name() string { return NameEyeClosure }

func (d *EyeClosureDetector) Update(ctx FrameContext) (Output, error) {
	ear, ok := 0.0, false
	if ctx.HasFace() {
		ear, ok = geometry.AverageEAR(ctx.FaceLandmarks)
	}
	if !ok {
		// the held value only seeds the next real sample
		d.smoother.Missing()
		return d.step(0, false), nil
	}
	return d.step(d.smoother.Observe(ear), true), nil
}

// step applies one smoothed EAR sample. ok=false is a no-data frame: state
// and window are left untouched.
func (d *EyeClosureDetector) step(ear float64, ok bool) EyeClosureOutput {
	if !ok {
		return d.output(nil)
	}

	switch {
	case ear < d.closeThreshold:
		d.closedFrame = true
		d.closedCounter++
	case ear >= d.openThreshold:
		d.closedFrame = false
		d.closedCounter = 0
		d.eyeClosed = false
	}
	if d.closedCounter >= d.minClosedFrames {
		d.eyeClosed = true
	}
	d.window.push(d.closedFrame)
	return d.output(&ear)
}

func (d *EyeClosureDetector) output(ear *float64) EyeClosureOutput {
	perclos := d.window.ratio()
	return EyeClosureOutput{
		EAR:                ear,
		EyeClosed:          d.eyeClosed,
		EyeClosedSustained: sustained(d.closedCounter, d.minClosedFrames),
		PERCLOS:            perclos,
		PERCLOSAlert:       d.window.len() > 0 && perclos >= d.perclosThreshold,
	}
}

func (d *EyeClosureDetector) Reset() {
	d.smoother.Reset()
	d.window.reset()
	d.closedFrame = false
	d.closedCounter = 0
	d.eyeClosed = false
}

func sustained(counter, target int) float64 {
	if target <= 0 {
		return 0
	}
	v := float64(counter) / float64(target)
	if v > 1 {
		return 1
	}
	return v
}
