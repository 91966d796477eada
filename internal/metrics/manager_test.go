package metrics

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managerTestConfig() Config {
	cfg := DefaultConfig()
	cfg.FPS = 10
	cfg.HeadPose = headPoseTestConfig()
	cfg.Gaze = gazeTestConfig()
	return cfg
}

func TestManagerProducesEveryKey(t *testing.T) {
	m, err := NewManager(DefaultConfig(), nil)
	require.NoError(t, err)

	out := m.Update(frameWith(openFace()))
	assert.False(t, out.FaceMissing)
	assert.NotNil(t, out.EyeClosure)
	assert.NotNil(t, out.Yawn)
	assert.NotNil(t, out.HeadPose)
	assert.NotNil(t, out.Gaze)
	assert.NotNil(t, out.PhoneUsage)
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EyeClosure.HysteresisRatio = 1.5
	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManagerCalibrationHandOff(t *testing.T) {
	m, err := NewManager(managerTestConfig(), nil)
	require.NoError(t, err)

	front := frameWith(openFace())

	// head pose calibrates for 3 frames; gaze is suspended during the first two
	out := m.Update(front)
	assert.Equal(t, CalibrationActive, m.Calibration())
	assert.True(t, out.HeadPose.Calibrating)
	assert.False(t, out.Gaze.Calibrated)
	m.Update(front)

	out = m.Update(front)
	assert.False(t, out.HeadPose.Calibrating)
	assert.Equal(t, CalibrationIdle, m.Calibration())

	// 2 hold frames were consumed by the exit frame and the next one, then
	// the gaze baseline needs 3 samples
	for i := 0; i < 3; i++ {
		out = m.Update(front)
		assert.False(t, out.Gaze.Calibrated, "frame %d", i)
	}
	out = m.Update(front)
	assert.True(t, out.Gaze.Calibrated)

	// forcing a head pose recalibration suspends gaze again
	m.ResetHeadPoseBaseline()
	out = m.Update(front)
	assert.Equal(t, CalibrationActive, m.Calibration())
	assert.False(t, out.Gaze.Calibrated)
}

type stubDetector struct {
	name  string
	err   error
	panic bool
	calls int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Update(FrameContext) (Output, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return nil, s.err
}

func (s *stubDetector) Reset() { s.calls = 0 }

func TestManagerIsolatesDetectorFailures(t *testing.T) {
	phone, err := NewPhoneUsageDetector(DefaultConfig().PhoneUsage, 15)
	require.NoError(t, err)
	gaze, err := NewGazeDetector(DefaultConfig().Gaze, 15)
	require.NoError(t, err)

	bad := &stubDetector{name: NameEyeClosure, panic: true}
	failing := &stubDetector{name: NameYawn, err: errors.New("no mouth")}
	m := newManager(NewFaceMissingTracker(0.5, 15), []Detector{bad, failing, phone}, gaze, nil)

	var out MetricsOutput
	require.NotPanics(t, func() { out = m.Update(frameWith(openFace())) })
	assert.Nil(t, out.EyeClosure)
	assert.Nil(t, out.Yawn)
	assert.NotNil(t, out.PhoneUsage)
	assert.NotNil(t, out.Gaze)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, failing.calls)
}

func TestActiveAlerts(t *testing.T) {
	out := MetricsOutput{
		FaceMissing: true,
		EyeClosure:  &EyeClosureOutput{PERCLOSAlert: true},
		PhoneUsage:  &PhoneUsageOutput{PhoneUsage: true},
	}
	assert.Equal(t, []string{AlertFaceMissing, AlertPERCLOS, AlertPhoneUsage}, out.ActiveAlerts())
	assert.Empty(t, MetricsOutput{}.ActiveAlerts())
}

// resetScript mixes open, closed, yawning, turned, absent and phone frames.
func resetScript() []FrameContext {
	closed := openFace()
	closed.ear = 0.05
	yawn := openFace()
	yawn.mar = 0.9
	turned := openFace()
	turned.noseDX = 0.15
	away := openFace()
	away.irisDX = 0.3

	var s []FrameContext
	for i := 0; i < 40; i++ {
		var fc FrameContext
		switch i % 8 {
		case 0, 1:
			fc = frameWith(openFace())
		case 2:
			fc = frameWith(closed)
		case 3:
			fc = frameWith(yawn)
		case 4:
			fc = frameWith(turned)
		case 5:
			fc = noFace()
		case 6:
			fc = frameWith(away)
		default:
			fc = frameWith(openFace())
			fc.ObjectDetections = []Detection{{ClassID: 67, Confidence: 0.9}}
		}
		s = append(s, fc)
	}
	return s
}

func TestResetMatchesFreshInstance(t *testing.T) {
	script := resetScript()

	run := func(m *Manager) []MetricsOutput {
		var outs []MetricsOutput
		for _, fc := range script {
			outs = append(outs, m.Update(fc))
		}
		return outs
	}

	fresh, err := NewManager(managerTestConfig(), nil)
	require.NoError(t, err)
	want := run(fresh)

	reused, err := NewManager(managerTestConfig(), nil)
	require.NoError(t, err)
	run(reused)
	reused.Reset()
	reused.Reset()
	got := run(reused)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outputs after Reset differ from a fresh manager (-want +got):\n%s", diff)
	}
}

func TestDetectorResetMatchesFreshInstance(t *testing.T) {
	cfg := managerTestConfig()
	builders := map[string]func() (Detector, error){
		NameEyeClosure: func() (Detector, error) { return NewEyeClosureDetector(cfg.EyeClosure, cfg.FPS) },
		NameYawn:       func() (Detector, error) { return NewYawnDetector(cfg.Yawn, cfg.FPS) },
		NameHeadPose:   func() (Detector, error) { return NewHeadPoseDetector(cfg.HeadPose, cfg.FPS) },
		NameGaze:       func() (Detector, error) { return NewGazeDetector(cfg.Gaze, cfg.FPS) },
		NamePhoneUsage: func() (Detector, error) { return NewPhoneUsageDetector(cfg.PhoneUsage, cfg.FPS) },
	}
	script := resetScript()

	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			fresh, err := build()
			require.NoError(t, err)
			reused, err := build()
			require.NoError(t, err)

			for _, fc := range script {
				_, err := reused.Update(fc)
				require.NoError(t, err)
			}
			reused.Reset()

			for i, fc := range script {
				want, _ := fresh.Update(fc)
				got, _ := reused.Update(fc)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("frame %d (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}
