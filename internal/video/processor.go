package video

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/frame"
	"vigil/internal/geometry"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/smoothing"
)

// ProcessorConfig tunes the sampling loop.
type ProcessorConfig struct {
	// DefaultFPS replaces a non-positive native rate
	DefaultFPS float64
	// MaxGlitches is the number of consecutive decode failures tolerated
	MaxGlitches int
	MaxWidth    int
	Metrics     metrics.Config
	// Landmark smoothing
	LandmarkAlpha      float64
	LandmarkMaxMissing int
}

// DefaultProcessorConfig returns the stock loop settings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		DefaultFPS:         30,
		MaxGlitches:        5,
		MaxWidth:           frame.MaxWidth,
		Metrics:            metrics.DefaultConfig(),
		LandmarkAlpha:      0.8,
		LandmarkMaxMissing: 5,
	}
}

// Processor drives one source through the analyzer and a fresh metric
// orchestrator per job.
type Processor struct {
	analyzer pipeline.Analyzer
	cfg      ProcessorConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(analyzer pipeline.Analyzer, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = 30
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = frame.MaxWidth
	}
	return &Processor{analyzer: analyzer, cfg: cfg, now: time.Now, logger: logger}
}

// Job is one run of the sampling loop.
type Job struct {
	Source    Source
	NativeFPS float64
	TargetFPS int
	// Progress, when set, is called with the ordinal of every grabbed frame
	Progress func(index int)
}

// Run samples job.Source at the target rate. ctx is checked before every
// grab and again right before inference; a canceled job returns ctx.Err().
func (p *Processor) Run(ctx context.Context, job Job) ([]FrameResult, error) {
	if job.TargetFPS <= 0 {
		return nil, fmt.Errorf("%w: target fps must be positive", ErrInvalidFormat)
	}
	fps := job.NativeFPS
	if fps <= 0 {
		fps = p.cfg.DefaultFPS
	}

	mcfg := p.cfg.Metrics
	mcfg.FPS = min(float64(job.TargetFPS), fps)
	mgr, err := metrics.NewManager(mcfg, p.logger)
	if err != nil {
		return nil, err
	}
	smoother, err := smoothing.NewVector(p.cfg.LandmarkAlpha, p.cfg.LandmarkMaxMissing)
	if err != nil {
		return nil, err
	}

	smp := newSampler(job.TargetFPS)
	var results []FrameResult
	glitches := 0
	grabbed := false

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := job.Source.Grab()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
		}
		if !ok {
			break
		}
		grabbed = true
		if job.Progress != nil {
			job.Progress(idx)
		}

		ts := frameTimestamp(idx, fps)
		if !smp.due(ts) {
			continue
		}

		img, err := job.Source.Retrieve()
		if err != nil {
			glitches++
			p.logger.Warn("frame decode failed", "frame", idx, "glitches", glitches, "error", err)
			if glitches > p.cfg.MaxGlitches {
				return nil, fmt.Errorf("%w: %d consecutive decode failures", ErrProcessingFailed, glitches)
			}
			continue
		}
		glitches = 0
		smp.advance(ts)
		img = frame.Downscale(img, p.cfg.MaxWidth)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fc, err := p.analyzer.Analyze(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("frame analysis failed", "frame", idx, "error", err)
			continue
		}
		fc.FaceLandmarks = smoothLandmarks(smoother, fc.FaceLandmarks)

		b := img.Bounds()
		results = append(results, FrameResult{
			FrameIndex:    idx,
			TimeOffsetSec: ts,
			Timestamp:     p.now().UTC().Format(time.RFC3339Nano),
			Resolution:    Resolution{Width: b.Dx(), Height: b.Dy()},
			FaceLandmarks: flatten(fc.FaceLandmarks),
			Metrics:       mgr.Update(fc),
		})
	}

	if !grabbed {
		return nil, fmt.Errorf("%w: no frames found", ErrInvalidFormat)
	}
	if len(results) == 0 {
		return nil, ErrNoFramesProcessed
	}
	return results, nil
}

// smoothLandmarks filters present landmarks. Absent frames only advance the
// filter's gap count, so a missing face stays missing.
func smoothLandmarks(f *smoothing.Vector, pts []geometry.Point) []geometry.Point {
	if len(pts) == 0 {
		f.Update(nil)
		return nil
	}
	v := make([]float64, 0, len(pts)*3)
	for _, p := range pts {
		v = append(v, p.X, p.Y, p.Z)
	}
	s := f.Update(v)
	out := make([]geometry.Point, len(pts))
	for i := range out {
		out[i] = geometry.Point{X: s[i*3], Y: s[i*3+1], Z: s[i*3+2]}
	}
	return out
}

func flatten(pts []geometry.Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	out := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		out = append(out, p.X, p.Y)
	}
	return out
}
