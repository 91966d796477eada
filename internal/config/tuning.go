package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vigil/internal/metrics"
)

const maxTuningFileSize = 1 * 1024 * 1024

// TuningConfig overrides detector thresholds. Every field is optional;
// omitted ones keep the stock value from metrics.DefaultConfig.
type TuningConfig struct {
	FaceMissingSec *float64 `json:"face_missing_sec,omitempty"`

	// Eye closure
	EAROpenThreshold   *float64 `json:"ear_open_threshold,omitempty"`
	EARHysteresisRatio *float64 `json:"ear_hysteresis_ratio,omitempty"`
	EyeMinClosedSec    *float64 `json:"eye_min_closed_sec,omitempty"`
	PERCLOSWindowSec   *float64 `json:"perclos_window_sec,omitempty"`
	PERCLOSThreshold   *float64 `json:"perclos_threshold,omitempty"`

	// Yawn
	MAROpenThreshold       *float64 `json:"mar_open_threshold,omitempty"`
	YawnMinDurationSec     *float64 `json:"yawn_min_duration_sec,omitempty"`
	YawnRateWindowSec      *float64 `json:"yawn_rate_window_sec,omitempty"`
	YawnRateAlertPerMinute *float64 `json:"yawn_rate_alert_per_minute,omitempty"`

	// Head pose, limits in degrees
	HeadCalibrationSec  *float64 `json:"head_calibration_sec,omitempty"`
	HeadYawLimit        *float64 `json:"head_yaw_limit,omitempty"`
	HeadPitchLimit      *float64 `json:"head_pitch_limit,omitempty"`
	HeadRollLimit       *float64 `json:"head_roll_limit,omitempty"`
	HeadMinSustainedSec *float64 `json:"head_min_sustained_sec,omitempty"`

	// Gaze
	GazeHorizontalRange *[2]float64 `json:"gaze_horizontal_range,omitempty"`
	GazeVerticalRange   *[2]float64 `json:"gaze_vertical_range,omitempty"`
	GazeMinSustainedSec *float64    `json:"gaze_min_sustained_sec,omitempty"`
	GazeCalibrationSec  *float64    `json:"gaze_calibration_sec,omitempty"`

	// Phone usage
	PhoneConfidenceThreshold *float64 `json:"phone_confidence_threshold,omitempty"`
	PhoneMinDurationSec      *float64 `json:"phone_min_duration_sec,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads overrides from a JSON file. The file must have a
// .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxTuningFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxTuningFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set: ratios must lie in (0,1) and
// durations must be positive.
func (c *TuningConfig) Validate() error {
	var errs []error
	unit := func(name string, v *float64) {
		if v != nil && !(*v > 0 && *v < 1) {
			errs = append(errs, fmt.Errorf("%s must be in (0,1), got %v", name, *v))
		}
	}
	positive := func(name string, v *float64) {
		if v != nil && !(*v > 0) {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, *v))
		}
	}
	span := func(name string, v *[2]float64) {
		if v != nil && (v[0] < 0 || v[1] > 1 || v[0] >= v[1]) {
			errs = append(errs, fmt.Errorf("%s must satisfy 0 <= lo < hi <= 1, got %v", name, *v))
		}
	}

	unit("ear_open_threshold", c.EAROpenThreshold)
	unit("ear_hysteresis_ratio", c.EARHysteresisRatio)
	unit("perclos_threshold", c.PERCLOSThreshold)
	unit("phone_confidence_threshold", c.PhoneConfidenceThreshold)

	positive("face_missing_sec", c.FaceMissingSec)
	positive("eye_min_closed_sec", c.EyeMinClosedSec)
	positive("perclos_window_sec", c.PERCLOSWindowSec)
	positive("mar_open_threshold", c.MAROpenThreshold)
	positive("yawn_min_duration_sec", c.YawnMinDurationSec)
	positive("yawn_rate_window_sec", c.YawnRateWindowSec)
	positive("yawn_rate_alert_per_minute", c.YawnRateAlertPerMinute)
	positive("head_calibration_sec", c.HeadCalibrationSec)
	positive("head_yaw_limit", c.HeadYawLimit)
	positive("head_pitch_limit", c.HeadPitchLimit)
	positive("head_roll_limit", c.HeadRollLimit)
	positive("head_min_sustained_sec", c.HeadMinSustainedSec)
	positive("gaze_min_sustained_sec", c.GazeMinSustainedSec)
	positive("gaze_calibration_sec", c.GazeCalibrationSec)
	positive("phone_min_duration_sec", c.PhoneMinDurationSec)

	span("gaze_horizontal_range", c.GazeHorizontalRange)
	span("gaze_vertical_range", c.GazeVerticalRange)

	return errors.Join(errs...)
}

func or(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

var defaults = metrics.DefaultConfig()

// GetEAROpenThreshold returns the EAR open threshold.
func (c *TuningConfig) GetEAROpenThreshold() float64 {
	return or(c.EAROpenThreshold, defaults.EyeClosure.OpenThreshold)
}

// GetPERCLOSThreshold returns the PERCLOS alert fraction.
func (c *TuningConfig) GetPERCLOSThreshold() float64 {
	return or(c.PERCLOSThreshold, defaults.EyeClosure.PERCLOSThreshold)
}

// GetPERCLOSWindowSec returns the PERCLOS window length.
func (c *TuningConfig) GetPERCLOSWindowSec() float64 {
	return or(c.PERCLOSWindowSec, defaults.EyeClosure.PERCLOSWindowSec)
}

// GetMAROpenThreshold returns the MAR yawn threshold.
func (c *TuningConfig) GetMAROpenThreshold() float64 {
	return or(c.MAROpenThreshold, defaults.Yawn.OpenThreshold)
}

// GetFaceMissingSec returns the face-missing alert delay.
func (c *TuningConfig) GetFaceMissingSec() float64 {
	return or(c.FaceMissingSec, defaults.FaceMissingSec)
}

// GetPhoneConfidenceThreshold returns the minimum phone detection confidence.
func (c *TuningConfig) GetPhoneConfidenceThreshold() float64 {
	return or(c.PhoneConfidenceThreshold, defaults.PhoneUsage.ConfidenceThreshold)
}

// DetectorConfig merges the overrides into the stock detector settings for
// a stream at fps.
func (c *TuningConfig) DetectorConfig(fps float64) (metrics.Config, error) {
	cfg := metrics.DefaultConfig()
	cfg.FPS = fps
	if c == nil {
		return cfg, cfg.Validate()
	}

	cfg.FaceMissingSec = c.GetFaceMissingSec()

	eye := &cfg.EyeClosure
	eye.OpenThreshold = c.GetEAROpenThreshold()
	eye.HysteresisRatio = or(c.EARHysteresisRatio, eye.HysteresisRatio)
	eye.MinClosedSec = or(c.EyeMinClosedSec, eye.MinClosedSec)
	eye.PERCLOSWindowSec = c.GetPERCLOSWindowSec()
	eye.PERCLOSThreshold = c.GetPERCLOSThreshold()

	yawn := &cfg.Yawn
	yawn.OpenThreshold = c.GetMAROpenThreshold()
	yawn.MinDurationSec = or(c.YawnMinDurationSec, yawn.MinDurationSec)
	yawn.RateWindowSec = or(c.YawnRateWindowSec, yawn.RateWindowSec)
	yawn.RateAlertPerMinute = or(c.YawnRateAlertPerMinute, yawn.RateAlertPerMinute)

	head := &cfg.HeadPose
	head.CalibrationSec = or(c.HeadCalibrationSec, head.CalibrationSec)
	head.YawLimit = or(c.HeadYawLimit, head.YawLimit)
	head.PitchLimit = or(c.HeadPitchLimit, head.PitchLimit)
	head.RollLimit = or(c.HeadRollLimit, head.RollLimit)
	head.MinSustainedSec = or(c.HeadMinSustainedSec, head.MinSustainedSec)

	gaze := &cfg.Gaze
	if c.GazeHorizontalRange != nil {
		gaze.HorizontalRange = *c.GazeHorizontalRange
	}
	if c.GazeVerticalRange != nil {
		gaze.VerticalRange = *c.GazeVerticalRange
	}
	gaze.MinSustainedSec = or(c.GazeMinSustainedSec, gaze.MinSustainedSec)
	gaze.CalibrationSec = or(c.GazeCalibrationSec, gaze.CalibrationSec)
	// Gaze treats the eye as closed at the same EAR the closure detector does.
	gaze.EyeClosedEAR = eye.CloseThreshold()

	cfg.PhoneUsage.ConfidenceThreshold = c.GetPhoneConfidenceThreshold()
	cfg.PhoneUsage.MinDurationSec = or(c.PhoneMinDurationSec, cfg.PhoneUsage.MinDurationSec)

	return cfg, cfg.Validate()
}
