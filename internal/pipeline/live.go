package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"vigil/internal/metrics"
)

// LiveConfig tunes a live processor.
type LiveConfig struct {
	TargetFPS      int
	AnalyzeTimeout time.Duration
}

// LiveProcessor runs one client's frames through the analyzer and its own
// metric orchestrator. HandleFrame must be called from a single goroutine;
// that goroutine is the only writer of the detector state.
type LiveProcessor struct {
	clientID string
	analyzer Analyzer
	manager  *metrics.Manager
	bus      *EventBus
	cfg      LiveConfig
	interval time.Duration
	last     time.Time
	seq      uint64
	logger   *slog.Logger
}

// NewLiveProcessor creates a processor with fresh detector state.
func NewLiveProcessor(clientID string, analyzer Analyzer, mcfg metrics.Config, bus *EventBus, cfg LiveConfig, logger *slog.Logger) (*LiveProcessor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "live", "client_id", clientID)
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 15
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = 2 * time.Second
	}
	mcfg.FPS = float64(cfg.TargetFPS)
	mgr, err := metrics.NewManager(mcfg, logger)
	if err != nil {
		return nil, err
	}
	return &LiveProcessor{
		clientID: clientID,
		analyzer: analyzer,
		manager:  mgr,
		bus:      bus,
		cfg:      cfg,
		interval: time.Second / time.Duration(cfg.TargetFPS),
		logger:   logger,
	}, nil
}

// HandleFrame analyzes img unless it arrives faster than the target rate.
func (p *LiveProcessor) HandleFrame(ctx context.Context, img image.Image, at time.Time) {
	if !p.last.IsZero() && at.Sub(p.last) < p.interval {
		return
	}
	p.last = at
	start := time.Now()

	var fc metrics.FrameContext
	failed := false
	if p.analyzer != nil {
		actx, cancel := context.WithTimeout(ctx, p.cfg.AnalyzeTimeout)
		res, err := p.analyzer.Analyze(actx, img)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Evaluated as an empty frame so face-missing keeps counting.
			p.logger.Warn("analyze failed", "analyzer", p.analyzer.Name(), "error", err)
			failed = true
		} else {
			fc = res
		}
	}

	out := p.manager.Update(fc)
	p.seq++
	if p.bus != nil {
		p.bus.Publish(&FrameResult{
			ClientID:       p.clientID,
			FrameSeq:       p.seq,
			Timestamp:      at,
			Metrics:        out,
			Latency:        time.Since(start),
			AnalyzerFailed: failed,
		})
	}
}

// Frames returns the number of frames evaluated so far.
func (p *LiveProcessor) Frames() uint64 { return p.seq }

// DataSender delivers a payload on a client's data channel.
type DataSender interface {
	SendData(clientID string, msg any) bool
}

// DataChannelForwarder publishes every result to its client's data channel.
type DataChannelForwarder struct {
	sender DataSender
}

// NewDataChannelForwarder creates a forwarder.
func NewDataChannelForwarder(sender DataSender) *DataChannelForwarder {
	return &DataChannelForwarder{sender: sender}
}

// OnFrameResult implements ResultHandler
func (f *DataChannelForwarder) OnFrameResult(r *FrameResult) {
	f.sender.SendData(r.ClientID, NewMetricsMessage(r))
}

var _ ResultHandler = (*DataChannelForwarder)(nil)
