package metrics

import (
	"vigil/internal/geometry"
	"vigil/internal/smoothing"
)

// YawnOutput is the per-frame mouth state.
type YawnOutput struct {
	MAR           *float64 `json:"mar"`
	Yawning       bool     `json:"yawning"`
	YawnProgress  float64  `json:"yawn_progress"`
	YawnCount     int      `json:"yawn_count"`
	YawnRate      float64  `json:"yawn_rate"`
	YawnRateAlert bool     `json:"yawn_rate_alert"`
}

func (o YawnOutput) assign(m *MetricsOutput) { m.Yawn = &o }

// YawnDetector counts completed yawns from a smoothed MAR with hysteresis.
type YawnDetector struct {
	openThreshold  float64
	closeThreshold float64
	minOpenFrames  int
	rateWindow     int
	rateMinutes    float64
	rateAlert      float64

	smoother *smoothing.EMA

	frame       int
	openCounter int
	active      bool
	count       int
	completions []int // frame numbers of completed yawns inside the rate window
}

// NewYawnDetector validates cfg and converts durations at fps.
func NewYawnDetector(cfg YawnConfig, fps float64) (*YawnDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sm, err := smoothing.NewEMA(cfg.SmoothingAlpha, cfg.SmoothingMaxGap)
	if err != nil {
		return nil, err
	}
	return &YawnDetector{
		openThreshold:  cfg.OpenThreshold,
		closeThreshold: cfg.OpenThreshold * cfg.HysteresisRatio,
		minOpenFrames:  Frames(cfg.MinDurationSec, fps),
		rateWindow:     Frames(cfg.RateWindowSec, fps),
		rateMinutes:    cfg.RateWindowSec / 60,
		rateAlert:      cfg.RateAlertPerMinute,
		smoother:       sm,
	}, nil
}

func (d *YawnDetector) Name() string { return NameYawn }

func (d *YawnDetector) Update(ctx FrameContext) (Output, error) {
	mar, ok := 0.0, false
	if ctx.HasFace() {
		mar, ok = geometry.MouthAspectRatio(ctx.FaceLandmarks)
	}
	if !ok {
		d.smoother.Missing()
		return d.step(0, false), nil
	}
	return d.step(d.smoother.Observe(mar), true), nil
}

func (d *YawnDetector) step(mar float64, ok bool) YawnOutput {
	d.frame++
	d.expireCompletions()
	if !ok {
		// occluded mouth keeps the current yawn state
		return d.output(nil)
	}

	switch {
	case mar > d.openThreshold:
		d.openCounter++
	case mar < d.closeThreshold:
		if d.active {
			d.count++
			d.completions = append(d.completions, d.frame)
		}
		d.openCounter = 0
		d.active = false
	}
	if d.openCounter >= d.minOpenFrames {
		d.active = true
	}
	return d.output(&mar)
}

func (d *YawnDetector) expireCompletions() {
	cut := 0
	for cut < len(d.completions) && d.frame-d.completions[cut] >= d.rateWindow {
		cut++
	}
	d.completions = d.completions[cut:]
}

func (d *YawnDetector) output(mar *float64) YawnOutput {
	rate := float64(len(d.completions)) / d.rateMinutes
	return YawnOutput{
		MAR:           mar,
		Yawning:       d.active,
		YawnProgress:  sustained(d.openCounter, d.minOpenFrames),
		YawnCount:     d.count,
		YawnRate:      rate,
		YawnRateAlert: rate >= d.rateAlert,
	}
}

func (d *YawnDetector) Reset() {
	d.smoother.Reset()
	d.frame = 0
	d.openCounter = 0
	d.active = false
	d.count = 0
	d.completions = nil
}
