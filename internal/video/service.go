package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/pipeline"
)

// Accepted inputs.
var (
	AllowedExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}
	AllowedCodecs     = []string{"h264", "mpeg4", "vp8", "vp9", "mjpeg", "hevc"}
)

// Target rate bounds.
const (
	MinTargetFPS     = 1
	MaxTargetFPS     = 60
	DefaultTargetFPS = 15
)

// Job statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Config limits batch jobs.
type Config struct {
	MaxUploadBytes     int64
	MaxDurationSeconds float64
	Timeout            time.Duration
	Grace              time.Duration
	Workers            int
	TempDir            string
	Processor          ProcessorConfig
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:     50 << 20,
		MaxDurationSeconds: 120,
		Timeout:            30 * time.Second,
		Grace:              2 * time.Second,
		Workers:            2,
		Processor:          DefaultProcessorConfig(),
	}
}

// JobRecord is the history entry of one job.
type JobRecord struct {
	ID              string
	Filename        string
	SizeBytes       int64
	TargetFPS       int
	Status          string
	Error           string
	TotalFrames     int
	ProcessedFrames int
	StartedAt       time.Time
	Elapsed         time.Duration
}

// JobStore persists job history.
type JobStore interface {
	RecordJob(ctx context.Context, rec JobRecord) error
}

// Upload is one batch request. Size may be -1 when unknown.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	TargetFPS   int
	Progress    func(index int)
}

// Service validates uploads and runs them on a bounded worker pool.
type Service struct {
	cfg     Config
	proc    *Processor
	open    Opener
	probe   func(path string) (ProbeInfo, error)
	store   JobStore
	slots   chan struct{}
	cleanup sync.WaitGroup
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOpener replaces the ffmpeg frame source.
func WithOpener(o Opener) ServiceOption { return func(s *Service) { s.open = o } }

// WithProber replaces ffprobe.
func WithProber(p func(path string) (ProbeInfo, error)) ServiceOption {
	return func(s *Service) { s.probe = p }
}

// WithJobStore records every job.
func WithJobStore(st JobStore) ServiceOption { return func(s *Service) { s.store = st } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

// NewService creates the batch service.
func NewService(cfg Config, analyzer pipeline.Analyzer, opts ...ServiceOption) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	s := &Service{
		cfg:    cfg,
		open:   OpenFFmpeg,
		probe:  Probe,
		slots:  make(chan struct{}, cfg.Workers),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "video")
	s.proc = NewProcessor(analyzer, cfg.Processor, s.logger)
	return s
}

type outcome struct {
	frames []FrameResult
	err    error
}

// Process validates, stores and samples one upload. On timeout the worker
// is asked to stop and given the grace period; its temporary file is
// removed once it has actually exited.
func (s *Service) Process(ctx context.Context, up Upload) (*Response, error) {
	rec := JobRecord{
		ID:        uuid.NewString(),
		Filename:  up.Filename,
		SizeBytes: up.Size,
		TargetFPS: up.TargetFPS,
		StartedAt: s.now(),
	}
	log := s.logger.With("job_id", rec.ID, "filename", up.Filename)

	resp, err := s.process(ctx, up, &rec, log)
	rec.Elapsed = s.now().Sub(rec.StartedAt)
	switch {
	case err == nil:
		rec.Status = StatusCompleted
	case errors.Is(err, ErrProcessingTimedOut):
		rec.Status = StatusTimedOut
		rec.Error = err.Error()
	default:
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	log.Info("video job finished", "status", rec.Status, "frames", rec.ProcessedFrames, "elapsed", rec.Elapsed)
	if s.store != nil {
		if serr := s.store.RecordJob(context.WithoutCancel(ctx), rec); serr != nil {
			log.Warn("record job failed", "error", serr)
		}
	}
	return resp, err
}

func (s *Service) process(ctx context.Context, up Upload, rec *JobRecord, log *slog.Logger) (*Response, error) {
	if up.TargetFPS < MinTargetFPS || up.TargetFPS > MaxTargetFPS {
		return nil, fmt.Errorf("%w: target fps must be in [%d, %d]", ErrInvalidFormat, MinTargetFPS, MaxTargetFPS)
	}
	if up.Size > s.cfg.MaxUploadBytes {
		return nil, ErrTooLarge
	}
	if ct := up.ContentType; ct != "" && !strings.HasPrefix(ct, "video/") && ct != "application/octet-stream" {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidFormat, ct)
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !slices.Contains(AllowedExtensions, ext) {
		return nil, fmt.Errorf("%w: extension %q", ErrInvalidFormat, ext)
	}

	path, size, err := s.saveUpload(up.Body, ext)
	if err != nil {
		return nil, err
	}
	rec.SizeBytes = size
	removeTemp := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error("remove temp file failed", "path", path, "error", err)
		}
	}

	info, err := s.probe(path)
	if err != nil {
		removeTemp()
		return nil, err
	}
	if err := s.validate(info); err != nil {
		removeTemp()
		return nil, err
	}
	rec.TotalFrames = info.TotalFrames

	// the deadline covers the wait for a worker slot
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
	case <-timer.C:
		removeTemp()
		return nil, fmt.Errorf("%w: no worker free within %s", ErrBusy, s.cfg.Timeout)
	case <-ctx.Done():
		removeTemp()
		return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan outcome, 1)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer func() { <-s.slots }()
		frames, err := s.run(jobCtx, path, info, up)
		done <- outcome{frames: frames, err: err}
	}()

	select {
	case out := <-done:
		removeTemp()
		if out.err != nil {
			return nil, out.err
		}
		rec.ProcessedFrames = len(out.frames)
		return s.response(up, size, info, out.frames), nil

	case <-timer.C:
		s.abandon(cancel, exited, removeTemp, log)
		return nil, ErrProcessingTimedOut

	case <-ctx.Done():
		s.abandon(cancel, exited, removeTemp, log)
		return nil, ctx.Err()
	}
}

// abandon cancels the worker, schedules temp cleanup after it exits and
// waits at most the grace period for that exit.
func (s *Service) abandon(cancel context.CancelFunc, exited <-chan struct{}, removeTemp func(), log *slog.Logger) {
	cancel()
	s.cleanup.Add(1)
	go func() {
		defer s.cleanup.Done()
		<-exited
		removeTemp()
	}()

	grace := time.NewTimer(s.cfg.Grace)
	defer grace.Stop()
	select {
	case <-exited:
	case <-grace.C:
		log.Warn("worker still running after grace period")
	}
}

func (s *Service) run(ctx context.Context, path string, info ProbeInfo, up Upload) ([]FrameResult, error) {
	src, err := s.open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return s.proc.Run(ctx, Job{
		Source:    src,
		NativeFPS: info.FPS,
		TargetFPS: up.TargetFPS,
		Progress:  up.Progress,
	})
}

// saveUpload copies body to a temp file, enforcing the size limit.
func (s *Service) saveUpload(body io.Reader, ext string) (string, int64, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "vigil-upload-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil || n > s.cfg.MaxUploadBytes {
		os.Remove(f.Name())
		if err != nil {
			return "", 0, fmt.Errorf("store upload: %w", err)
		}
		return "", 0, ErrTooLarge
	}
	return f.Name(), n, nil
}

func (s *Service) validate(info ProbeInfo) error {
	if !slices.Contains(AllowedCodecs, info.Codec) {
		return fmt.Errorf("%w: codec %q", ErrInvalidFormat, info.Codec)
	}
	if s.cfg.MaxDurationSeconds > 0 && info.Duration > s.cfg.MaxDurationSeconds {
		return fmt.Errorf("%w: %.1fs > %.0fs", ErrDurationExceeded, info.Duration, s.cfg.MaxDurationSeconds)
	}
	return nil
}

func (s *Service) response(up Upload, size int64, info ProbeInfo, frames []FrameResult) *Response {
	return &Response{
		VideoMetadata: Metadata{
			Filename:        up.Filename,
			ContentType:     up.ContentType,
			SizeBytes:       size,
			Codec:           info.Codec,
			FPS:             optional(info.FPS),
			TargetFPS:       up.TargetFPS,
			DurationSeconds: optional(info.Duration),
			TotalFrames:     optional(info.TotalFrames),
			Width:           optional(info.Width),
			Height:          optional(info.Height),
			ProcessedFrames: len(frames),
			MaxWidth:        s.proc.cfg.MaxWidth,
			Summary:         Summarize(frames),
		},
		Frames: frames,
	}
}

// Wait blocks until every detached cleanup has run.
func (s *Service) Wait() {
	s.cleanup.Wait()
}
