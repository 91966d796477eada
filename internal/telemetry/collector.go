// Package telemetry exposes Prometheus metrics for the live and batch paths.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/pipeline"
	"vigil/internal/session"
	"vigil/internal/video"
)

// StatsSource reports live connection counts.
type StatsSource interface {
	Stats() session.Stats
}

// Collector manages all Prometheus metrics for the service.
type Collector struct {
	reg *prometheus.Registry

	framesProcessed  *prometheus.CounterVec
	analyzerFailures prometheus.Counter
	frameLatency     prometheus.Histogram
	alertFrames      *prometheus.CounterVec

	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	jobFrames   prometheus.Counter
}

// NewCollector registers every metric on a fresh registry together with the
// Go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		framesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_live_frames_total",
			Help: "Live frames evaluated, by face presence",
		}, []string{"face"}),
		analyzerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "vigil_analyzer_failures_total",
			Help: "Live frames evaluated without detections after an analyzer error",
		}),
		frameLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_live_frame_latency_seconds",
			Help:    "Analysis plus metric computation time per live frame",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		alertFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alert_frames_total",
			Help: "Live frames with an active alert, by alert",
		}, []string{"alert"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_video_jobs_total",
			Help: "Batch video jobs, by final status",
		}, []string{"status"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_video_job_duration_seconds",
			Help:    "Wall time of batch video jobs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		jobFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "vigil_video_frames_total",
			Help: "Frames analyzed by batch video jobs",
		}),
	}
}

// TrackSessions exports the connection counts of src as gauges read at
// scrape time.
func (c *Collector) TrackSessions(src StatsSource) {
	f := promauto.With(c.reg)
	gauge := func(name, help string, pick func(session.Stats) int) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(src.Stats()))
		})
	}
	gauge("vigil_sessions", "Client sessions held", func(s session.Stats) int { return s.Sessions })
	gauge("vigil_socket_connections", "Attached signaling sockets", func(s session.Stats) int { return s.ActiveConnections })
	gauge("vigil_peer_connections", "Attached peer connections", func(s session.Stats) int { return s.PeerConnections })
	gauge("vigil_data_channels", "Attached data channels", func(s session.Stats) int { return s.DataChannels })
	gauge("vigil_frame_tasks", "Running frame processing tasks", func(s session.Stats) int { return s.FrameTasks })
}

// OnFrameResult implements pipeline.ResultHandler.
func (c *Collector) OnFrameResult(r *pipeline.FrameResult) {
	face := "present"
	if r.Metrics.FaceMissing {
		face = "missing"
	}
	c.framesProcessed.WithLabelValues(face).Inc()
	if r.AnalyzerFailed {
		c.analyzerFailures.Inc()
	}
	c.frameLatency.Observe(r.Latency.Seconds())
	for _, a := range r.Metrics.ActiveAlerts() {
		c.alertFrames.WithLabelValues(a).Inc()
	}
}

// JobStore wraps next so every recorded job is also counted. next may be nil.
func (c *Collector) JobStore(next video.JobStore) video.JobStore {
	return &jobRecorder{c: c, next: next}
}

type jobRecorder struct {
	c    *Collector
	next video.JobStore
}

func (j *jobRecorder) RecordJob(ctx context.Context, rec video.JobRecord) error {
	j.c.jobs.WithLabelValues(rec.Status).Inc()
	j.c.jobDuration.Observe(rec.Elapsed.Seconds())
	j.c.jobFrames.Add(float64(rec.ProcessedFrames))
	if j.next == nil {
		return nil
	}
	return j.next.RecordJob(ctx, rec)
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
