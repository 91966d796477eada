package metrics

import (
	"fmt"
	"log/slog"
)

// CalibrationState is the head pose calibration phase as seen by the
// manager on the previous frame.
type CalibrationState int

const (
	CalibrationIdle CalibrationState = iota
	CalibrationActive
)

func (s CalibrationState) String() string {
	if s == CalibrationActive {
		return "calibrating"
	}
	return "idle"
}

// GazeCoupling is the calibration hand-off surface of the gaze detector.
type GazeCoupling interface {
	Detector
	OnCalibratingEntered()
	OnCalibratingExited()
	ResetBaseline()
}

// Manager runs every detector for one stream. It is not safe for
// concurrent use; each live session or batch job owns its own Manager.
type Manager struct {
	logger      *slog.Logger
	faceMissing *FaceMissingTracker
	detectors   []Detector
	headPose    *HeadPoseDetector
	gaze        GazeCoupling
	calibration CalibrationState
}

// NewManager builds the standard detector set from cfg.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}
	fps := cfg.fps()

	eye, err := NewEyeClosureDetector(cfg.EyeClosure, fps)
	if err != nil {
		return nil, err
	}
	head, err := NewHeadPoseDetector(cfg.HeadPose, fps)
	if err != nil {
		return nil, err
	}
	yawn, err := NewYawnDetector(cfg.Yawn, fps)
	if err != nil {
		return nil, err
	}
	phone, err := NewPhoneUsageDetector(cfg.PhoneUsage, fps)
	if err != nil {
		return nil, err
	}
	gaze, err := NewGazeDetector(cfg.Gaze, fps)
	if err != nil {
		return nil, err
	}

	m := newManager(NewFaceMissingTracker(cfg.FaceMissingSec, fps),
		[]Detector{eye, head, yawn, phone}, gaze, logger)
	m.headPose = head
	return m, nil
}

func newManager(fm *FaceMissingTracker, detectors []Detector, gaze GazeCoupling, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger.With("component", "metrics"),
		faceMissing: fm,
		detectors:   detectors,
		gaze:        gaze,
	}
}

// Update pushes one frame through face-missing tracking, every detector and
// finally the gaze detector, gated on the head pose calibration phase.
func (m *Manager) Update(ctx FrameContext) MetricsOutput {
	out := MetricsOutput{FaceMissing: m.faceMissing.Update(ctx)}

	for _, d := range m.detectors {
		m.run(d, ctx, &out)
	}

	if m.gaze == nil {
		return out
	}

	next := CalibrationIdle
	if out.HeadPose != nil && out.HeadPose.Calibrating {
		next = CalibrationActive
	}
	if next != m.calibration {
		m.logger.Debug("head pose calibration transition", "from", m.calibration, "to", next)
		if next == CalibrationActive {
			m.gaze.OnCalibratingEntered()
		} else {
			m.gaze.OnCalibratingExited()
		}
		m.calibration = next
	}
	m.run(m.gaze, ctx, &out)
	return out
}

// run isolates one detector: an error or panic drops its key for this frame.
func (m *Manager) run(d Detector, ctx FrameContext, out *MetricsOutput) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("metric update panicked", "metric", d.Name(), "panic", r)
		}
	}()
	res, err := d.Update(ctx)
	if err != nil {
		m.logger.Error("metric update failed", "metric", d.Name(), "error", err)
		return
	}
	if res != nil {
		res.assign(out)
	}
}

// Reset resets every detector and the calibration coupling.
func (m *Manager) Reset() {
	m.faceMissing.Reset()
	for _, d := range m.detectors {
		d.Reset()
	}
	if m.gaze != nil {
		m.gaze.Reset()
	}
	m.calibration = CalibrationIdle
}

// ResetHeadPoseBaseline forces head pose recalibration only.
func (m *Manager) ResetHeadPoseBaseline() {
	if m.headPose != nil {
		m.headPose.ResetBaseline()
	}
}

// ResetGazeBaseline forces gaze recalibration only.
func (m *Manager) ResetGazeBaseline() {
	if m.gaze != nil {
		m.gaze.ResetBaseline()
	}
}

// Calibration returns the calibration phase observed on the last frame.
func (m *Manager) Calibration() CalibrationState {
	return m.calibration
}
