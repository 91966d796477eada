package metrics

import (
	"errors"
	"fmt"
	"math"
)

// DefaultFPS is the frame rate durations are converted against when a
// config leaves FPS unset.
const DefaultFPS = 15

// EyeClosureConfig tunes the EAR/PERCLOS detector.
type EyeClosureConfig struct {
	OpenThreshold    float64 // EAR at or above which the eye is open
	HysteresisRatio  float64 // close threshold = open * ratio
	MinClosedSec     float64
	PERCLOSWindowSec float64
	PERCLOSThreshold float64
	SmoothingAlpha   float64
	SmoothingMaxGap  int
}

// CloseThreshold is the EAR below which the eye counts as closed.
func (c EyeClosureConfig) CloseThreshold() float64 {
	return c.OpenThreshold * c.HysteresisRatio
}

// YawnConfig tunes the MAR yawn detector.
type YawnConfig struct {
	OpenThreshold      float64
	HysteresisRatio    float64
	MinDurationSec     float64
	SmoothingAlpha     float64
	SmoothingMaxGap    int
	RateWindowSec      float64
	RateAlertPerMinute float64
}

// HeadPoseConfig tunes the head pose detector. Limits are in degrees of
// deviation from the calibrated neutral pose.
type HeadPoseConfig struct {
	CalibrationSec  float64
	YawLimit        float64
	PitchLimit      float64
	RollLimit       float64
	MinSustainedSec float64
	MissingResetSec float64
	SmoothingAlpha  float64
	SmoothingMaxGap int
}

// GazeConfig tunes the gaze detector. Ranges are absolute eye-box ratios;
// only their width around the center is used once a baseline exists.
type GazeConfig struct {
	HorizontalRange        [2]float64
	VerticalRange          [2]float64
	MinSustainedSec        float64
	CalibrationSec         float64
	PostCalibrationHoldSec float64
	MissingResetSec        float64
	SmoothingAlpha         float64
	SmoothingMaxGap        int
	EyeClosedEAR           float64
}

// PhoneUsageConfig tunes the phone detector.
type PhoneUsageConfig struct {
	ConfidenceThreshold float64
	MinDurationSec      float64
}

// Config bundles every detector setting with the stream frame rate.
type Config struct {
	FPS            float64
	FaceMissingSec float64
	EyeClosure     EyeClosureConfig
	Yawn           YawnConfig
	HeadPose       HeadPoseConfig
	Gaze           GazeConfig
	PhoneUsage     PhoneUsageConfig
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	eye := EyeClosureConfig{
		OpenThreshold:    0.20,
		HysteresisRatio:  0.9,
		MinClosedSec:     0.3,
		PERCLOSWindowSec: 10,
		PERCLOSThreshold: 0.4,
		SmoothingAlpha:   0.5,
		SmoothingMaxGap:  3,
	}
	return Config{
		FPS:            DefaultFPS,
		FaceMissingSec: 0.5,
		EyeClosure:     eye,
		Yawn: YawnConfig{
			OpenThreshold:      0.6,
			HysteresisRatio:    0.9,
			MinDurationSec:     1.0,
			SmoothingAlpha:     0.3,
			SmoothingMaxGap:    3,
			RateWindowSec:      60,
			RateAlertPerMinute: 3,
		},
		HeadPose: HeadPoseConfig{
			CalibrationSec:  2.0,
			YawLimit:        30,
			PitchLimit:      20,
			RollLimit:       25,
			MinSustainedSec: 1.0,
			MissingResetSec: 3.0,
			SmoothingAlpha:  0.4,
			SmoothingMaxGap: 3,
		},
		Gaze: GazeConfig{
			HorizontalRange:        [2]float64{0.35, 0.65},
			VerticalRange:          [2]float64{0.35, 0.65},
			MinSustainedSec:        0.5,
			CalibrationSec:         1.0,
			PostCalibrationHoldSec: 0.5,
			MissingResetSec:        3.0,
			SmoothingAlpha:         0.4,
			SmoothingMaxGap:        3,
			EyeClosedEAR:           eye.CloseThreshold(),
		},
		PhoneUsage: PhoneUsageConfig{
			ConfidenceThreshold: 0.5,
			MinDurationSec:      0.5,
		},
	}
}

// Frames converts a duration in seconds to a frame count at fps, floored,
// never below one.
func Frames(sec, fps float64) int {
	n := int(math.Floor(sec*fps + 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

func (c Config) fps() float64 {
	if c.FPS <= 0 {
		return DefaultFPS
	}
	return c.FPS
}

func checkUnit(name string, v float64) error {
	if !(v > 0 && v < 1) {
		return fmt.Errorf("%s must be in (0,1), got %v", name, v)
	}
	return nil
}

func checkPositive(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}

func checkRange(name string, r [2]float64) error {
	if r[0] < 0 || r[1] > 1 || r[0] >= r[1] {
		return fmt.Errorf("%s must satisfy 0 <= lo < hi <= 1, got %v", name, r)
	}
	return nil
}

// Validate checks every section and joins all problems into one error.
func (c Config) Validate() error {
	return errors.Join(
		c.EyeClosure.validate(),
		c.Yawn.validate(),
		c.HeadPose.validate(),
		c.Gaze.validate(),
		c.PhoneUsage.validate(),
		checkPositive("face_missing_sec", c.FaceMissingSec),
	)
}

func (c EyeClosureConfig) validate() error {
	return errors.Join(
		checkUnit("eye_closure.open_threshold", c.OpenThreshold),
		checkUnit("eye_closure.hysteresis_ratio", c.HysteresisRatio),
		checkUnit("eye_closure.perclos_threshold", c.PERCLOSThreshold),
		checkPositive("eye_closure.min_closed_sec", c.MinClosedSec),
		checkPositive("eye_closure.perclos_window_sec", c.PERCLOSWindowSec),
	)
}

func (c YawnConfig) validate() error {
	return errors.Join(
		checkPositive("yawn.open_threshold", c.OpenThreshold),
		checkUnit("yawn.hysteresis_ratio", c.HysteresisRatio),
		checkPositive("yawn.min_duration_sec", c.MinDurationSec),
		checkPositive("yawn.rate_window_sec", c.RateWindowSec),
		checkPositive("yawn.rate_alert_per_minute", c.RateAlertPerMinute),
	)
}

func (c HeadPoseConfig) validate() error {
	return errors.Join(
		checkPositive("head_pose.calibration_sec", c.CalibrationSec),
		checkPositive("head_pose.yaw_limit", c.YawLimit),
		checkPositive("head_pose.pitch_limit", c.PitchLimit),
		checkPositive("head_pose.roll_limit", c.RollLimit),
		checkPositive("head_pose.min_sustained_sec", c.MinSustainedSec),
		checkPositive("head_pose.missing_reset_sec", c.MissingResetSec),
	)
}

func (c GazeConfig) validate() error {
	var hold error
	if c.PostCalibrationHoldSec < 0 {
		hold = fmt.Errorf("gaze.post_calibration_hold_sec must be >= 0, got %v", c.PostCalibrationHoldSec)
	}
	return errors.Join(
		checkRange("gaze.horizontal_range", c.HorizontalRange),
		checkRange("gaze.vertical_range", c.VerticalRange),
		checkPositive("gaze.min_sustained_sec", c.MinSustainedSec),
		checkPositive("gaze.calibration_sec", c.CalibrationSec),
		checkPositive("gaze.missing_reset_sec", c.MissingResetSec),
		checkUnit("gaze.eye_closed_ear", c.EyeClosedEAR),
		hold,
	)
}

func (c PhoneUsageConfig) validate() error {
	return errors.Join(
		checkUnit("phone_usage.confidence_threshold", c.ConfidenceThreshold),
		checkPositive("phone_usage.min_duration_sec", c.MinDurationSec),
	)
}
