package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYawnCountsOncePerCompletedYawn(t *testing.T) {
	cfg := DefaultConfig().Yawn
	cfg.SmoothingAlpha = 1
	cfg.MinDurationSec = 0.2 // 3 frames at 15 fps
	cfg.RateAlertPerMinute = 2
	d, err := NewYawnDetector(cfg, 15)
	require.NoError(t, err)

	var out YawnOutput
	for i := 0; i < 3; i++ {
		out = d.step(0.8, true)
	}
	assert.True(t, out.Yawning)
	assert.Equal(t, 1.0, out.YawnProgress)
	assert.Equal(t, 0, out.YawnCount)

	// band and dropped frames hold the yawn
	out = d.step(0.57, true)
	assert.True(t, out.Yawning)
	out = d.step(0, false)
	assert.True(t, out.Yawning)
	assert.Nil(t, out.MAR)

	out = d.step(0.3, true)
	assert.False(t, out.Yawning)
	assert.Equal(t, 1, out.YawnCount)
	assert.Equal(t, 0.0, out.YawnProgress)

	// staying closed does not count again
	out = d.step(0.3, true)
	assert.Equal(t, 1, out.YawnCount)
	assert.False(t, out.YawnRateAlert)

	for i := 0; i < 4; i++ {
		d.step(0.9, true)
	}
	out = d.step(0.1, true)
	assert.Equal(t, 2, out.YawnCount)
	assert.InDelta(t, 2.0, out.YawnRate, 1e-12)
	assert.True(t, out.YawnRateAlert)
}

func TestYawnRateWindowExpires(t *testing.T) {
	cfg := DefaultConfig().Yawn
	cfg.SmoothingAlpha = 1
	cfg.MinDurationSec = 0.1
	cfg.RateWindowSec = 1 // 10 frames at 10 fps
	d, err := NewYawnDetector(cfg, 10)
	require.NoError(t, err)

	d.step(0.9, true)
	out := d.step(0.1, true)
	assert.Equal(t, 1, out.YawnCount)
	assert.InDelta(t, 60.0, out.YawnRate, 1e-9)

	for i := 0; i < 10; i++ {
		out = d.step(0.1, true)
	}
	assert.Equal(t, 0.0, out.YawnRate)
	assert.Equal(t, 1, out.YawnCount)
}

func TestYawnFromLandmarks(t *testing.T) {
	cfg := DefaultConfig().Yawn
	cfg.SmoothingAlpha = 1
	d, err := NewYawnDetector(cfg, 15)
	require.NoError(t, err)

	wide := openFace()
	wide.mar = 0.9
	var out Output
	for i := 0; i < 15; i++ {
		out, err = d.Update(frameWith(wide))
		require.NoError(t, err)
	}
	yo := out.(YawnOutput)
	assert.True(t, yo.Yawning)
	require.NotNil(t, yo.MAR)
	assert.InDelta(t, 0.9, *yo.MAR, 1e-9)
}

func TestYawnMissingFaceWithinSmoothingGap(t *testing.T) {
	cfg := DefaultConfig().Yawn
	require.Positive(t, cfg.SmoothingMaxGap)
	d, err := NewYawnDetector(cfg, 15)
	require.NoError(t, err)

	wide := openFace()
	wide.mar = 0.9
	for i := 0; i < 2; i++ {
		_, err = d.Update(frameWith(wide))
		require.NoError(t, err)
	}
	require.Equal(t, 2, d.openCounter)

	for i := 0; i < cfg.SmoothingMaxGap; i++ {
		out, err := d.Update(noFace())
		require.NoError(t, err)
		yo := out.(YawnOutput)
		assert.Nil(t, yo.MAR, "frame %d", i)
		assert.False(t, yo.Yawning, "frame %d", i)
	}
	assert.Equal(t, 2, d.openCounter)

	_, err = d.Update(frameWith(wide))
	require.NoError(t, err)
	assert.Equal(t, 3, d.openCounter)
}

func TestPhoneUsageConsecutiveFrames(t *testing.T) {
	d, err := NewPhoneUsageDetector(PhoneUsageConfig{ConfidenceThreshold: 0.3, MinDurationSec: 0.3}, 10)
	require.NoError(t, err)
	require.Equal(t, 3, d.minFrames)

	phone := FrameContext{ObjectDetections: []Detection{{ClassID: 67, Confidence: 0.35}}}
	weak := FrameContext{ObjectDetections: []Detection{{ClassID: 67, Confidence: 0.2}}}

	update := func(fc FrameContext) PhoneUsageOutput {
		out, err := d.Update(fc)
		require.NoError(t, err)
		return out.(PhoneUsageOutput)
	}

	assert.False(t, update(phone).PhoneUsage)
	assert.InDelta(t, 2.0/3.0, update(phone).PhoneUsageSustained, 1e-12)
	out := update(phone)
	assert.True(t, out.PhoneUsage)
	assert.Equal(t, 1.0, out.PhoneUsageSustained)
	assert.Equal(t, 0.35, out.Confidence)

	out = update(weak)
	assert.False(t, out.PhoneUsage)
	assert.False(t, out.PhoneDetected)
	assert.Equal(t, 0.0, out.PhoneUsageSustained)

	assert.False(t, update(phone).PhoneUsage, "counter restarted from zero")
}

func TestIsPhone(t *testing.T) {
	cases := []struct {
		det  Detection
		want bool
	}{
		{Detection{ClassID: 67}, true},
		{Detection{ClassID: 0}, false},
		{Detection{Label: "cell phone", ClassID: 3}, true},
		{Detection{Label: "Phone"}, true},
		{Detection{Label: "person", ClassID: 67}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsPhone(tc.det), "%+v", tc.det)
	}
}

func TestFaceMissingTracker(t *testing.T) {
	tr := NewFaceMissingTracker(0.5, 10)
	for i := 0; i < 4; i++ {
		assert.False(t, tr.Update(noFace()), "frame %d", i+1)
	}
	assert.True(t, tr.Update(noFace()))
	assert.True(t, tr.Update(noFace()))
	assert.False(t, tr.Update(frameWith(openFace())), "cleared the instant a face returns")
	assert.False(t, tr.Update(noFace()))
}

func headPoseTestConfig() HeadPoseConfig {
	return HeadPoseConfig{
		CalibrationSec:  0.3, // 3 frames at 10 fps
		YawLimit:        20,
		PitchLimit:      20,
		RollLimit:       20,
		MinSustainedSec: 0.2,
		MissingResetSec: 0.5,
		SmoothingAlpha:  1,
		SmoothingMaxGap: 0,
	}
}

func TestHeadPoseCalibratesThenAlerts(t *testing.T) {
	d, err := NewHeadPoseDetector(headPoseTestConfig(), 10)
	require.NoError(t, err)

	update := func(fc FrameContext) HeadPoseOutput {
		out, err := d.Update(fc)
		require.NoError(t, err)
		return out.(HeadPoseOutput)
	}

	front := frameWith(openFace())
	assert.True(t, update(front).Calibrating)
	assert.True(t, update(front).Calibrating)
	out := update(front)
	assert.False(t, out.Calibrating)
	require.NotNil(t, out.Yaw)
	assert.InDelta(t, 0, *out.Yaw, 1e-9)

	turned := openFace()
	turned.noseDX = 0.1375 // 30 degrees
	out = update(frameWith(turned))
	assert.InDelta(t, 30, *out.Yaw, 1e-6)
	assert.False(t, out.YawAlert)
	assert.InDelta(t, 0.5, out.Sustained, 1e-12)
	out = update(frameWith(turned))
	assert.True(t, out.YawAlert)
	assert.True(t, out.Alert)
	assert.False(t, out.PitchAlert)

	// back inside the limit clears the alert
	out = update(front)
	assert.False(t, out.Alert)

	// 5 frames without a face force recalibration
	for i := 0; i < 5; i++ {
		out = update(noFace())
	}
	assert.True(t, out.Calibrating)
	assert.Nil(t, out.Yaw)
}

func gazeTestConfig() GazeConfig {
	cfg := DefaultConfig().Gaze
	cfg.CalibrationSec = 0.3         // 3 frames at 10 fps
	cfg.MinSustainedSec = 0.2        // 2 frames
	cfg.PostCalibrationHoldSec = 0.2 // 2 frames
	cfg.MissingResetSec = 0.5        // 5 frames
	cfg.SmoothingAlpha = 1
	cfg.SmoothingMaxGap = 0
	return cfg
}

func gazeUpdate(t *testing.T, d *GazeDetector, fc FrameContext) GazeOutput {
	t.Helper()
	out, err := d.Update(fc)
	require.NoError(t, err)
	return out.(GazeOutput)
}

func TestGazeBaselineAndAlert(t *testing.T) {
	d, err := NewGazeDetector(gazeTestConfig(), 10)
	require.NoError(t, err)

	centered := frameWith(openFace())
	for i := 0; i < 2; i++ {
		assert.False(t, gazeUpdate(t, d, centered).Calibrated)
	}
	out := gazeUpdate(t, d, centered)
	assert.True(t, out.Calibrated)
	assert.True(t, out.GazeOnRoad)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, out.LeftRatio, 1e-9)

	away := openFace()
	away.irisDX = 0.3
	out = gazeUpdate(t, d, frameWith(away))
	assert.False(t, out.GazeOnRoad)
	assert.False(t, out.GazeAlert)
	out = gazeUpdate(t, d, frameWith(away))
	assert.True(t, out.GazeAlert)
	assert.Equal(t, 1.0, out.GazeSustained)

	// closed eyes suppress the alert
	closed := away
	closed.ear = 0.05
	out = gazeUpdate(t, d, frameWith(closed))
	assert.False(t, out.GazeAlert)
}

func TestGazeBaselineIsPersonal(t *testing.T) {
	d, err := NewGazeDetector(gazeTestConfig(), 10)
	require.NoError(t, err)

	// driver habitually looks 0.2 to the side; that becomes the neutral
	habitual := openFace()
	habitual.irisDX = 0.2
	for i := 0; i < 3; i++ {
		gazeUpdate(t, d, frameWith(habitual))
	}
	for i := 0; i < 5; i++ {
		out := gazeUpdate(t, d, frameWith(habitual))
		assert.True(t, out.GazeOnRoad)
		assert.False(t, out.GazeAlert)
	}
}

func TestGazeSuspendAndHold(t *testing.T) {
	d, err := NewGazeDetector(gazeTestConfig(), 10)
	require.NoError(t, err)

	away := openFace()
	away.irisDX = 0.3

	d.OnCalibratingEntered()
	for i := 0; i < 5; i++ {
		out := gazeUpdate(t, d, frameWith(away))
		assert.False(t, out.Calibrated)
		assert.False(t, out.GazeAlert)
	}

	d.OnCalibratingExited()
	centered := frameWith(openFace())
	// two hold frames, baseline untouched
	gazeUpdate(t, d, centered)
	gazeUpdate(t, d, centered)
	assert.False(t, gazeUpdate(t, d, centered).Calibrated)
	gazeUpdate(t, d, centered)
	assert.True(t, gazeUpdate(t, d, centered).Calibrated)
}

func TestGazeMissingFaceResetsBaseline(t *testing.T) {
	d, err := NewGazeDetector(gazeTestConfig(), 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		gazeUpdate(t, d, frameWith(openFace()))
	}
	require.True(t, d.calibrated())

	for i := 0; i < 4; i++ {
		gazeUpdate(t, d, noFace())
	}
	assert.True(t, d.calibrated())
	assert.False(t, gazeUpdate(t, d, noFace()).Calibrated)
}
