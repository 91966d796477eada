// Package alerts turns per-frame alert flags into discrete alert events and
// fans them out to MQTT, Telegram and the history store.
package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 2 * time.Second
)

// Sink delivers alert events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// EventStore keeps alert history.
type EventStore interface {
	SaveAlertEvent(ctx context.Context, ev database.AlertEventRecord) error
}

// Event is emitted once per alert when it switches from inactive to active
// for a client.
type Event struct {
	ClientID  string                `json:"client_id"`
	Alert     string                `json:"alert"`
	Frame     uint64                `json:"frame"`
	Timestamp float64               `json:"timestamp"`
	Metrics   metrics.MetricsOutput `json:"metrics"`

	at time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSink adds a delivery destination.
func WithSink(s Sink) Option { return func(n *Notifier) { n.sinks = append(n.sinks, s) } }

// WithStore records each event.
func WithStore(s EventStore) Option { return func(n *Notifier) { n.store = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Notifier) { n.logger = l } }

// WithQueueSize bounds the number of undelivered events.
func WithQueueSize(size int) Option { return func(n *Notifier) { n.queueSize = size } }

// Notifier detects rising edges of alerts per client. Delivery happens on
// the goroutine running Run so frame handling never waits on the broker.
type Notifier struct {
	sinks     []Sink
	store     EventStore
	logger    *slog.Logger
	queueSize int
	queue     chan Event

	mu     sync.Mutex
	active map[string]map[string]bool
}

// NewNotifier creates a notifier.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		queueSize: defaultQueueSize,
		active:    make(map[string]map[string]bool),
	}
	for _, o := range opts {
		o(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	n.logger = n.logger.With("component", "alerts")
	n.queue = make(chan Event, n.queueSize)
	return n
}

// OnFrameResult implements pipeline.ResultHandler.
func (n *Notifier) OnFrameResult(r *pipeline.FrameResult) {
	now := make(map[string]bool)
	for _, a := range r.Metrics.ActiveAlerts() {
		now[a] = true
	}

	n.mu.Lock()
	prev := n.active[r.ClientID]
	n.active[r.ClientID] = now
	n.mu.Unlock()

	for _, a := range metrics.AllAlerts {
		if !now[a] || prev[a] {
			continue
		}
		ev := Event{
			ClientID:  r.ClientID,
			Alert:     a,
			Frame:     r.FrameSeq,
			Timestamp: float64(r.Timestamp.UnixNano()) / 1e9,
			Metrics:   r.Metrics,
			at:        r.Timestamp,
		}
		select {
		case n.queue <- ev:
		default:
			n.logger.Warn("alert queue full, dropping event", "client_id", r.ClientID, "alert", a)
		}
	}
}

// Forget drops the edge state of a client so a reconnect starts clean.
func (n *Notifier) Forget(clientID string) {
	n.mu.Lock()
	delete(n.active, clientID)
	n.mu.Unlock()
}

// Run delivers queued events until ctx is canceled, then drains what is
// already queued.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver is bounded by its own timeouts so the final drain still reaches
// every sink after Run's context is done.
func (n *Notifier) deliver(ev Event) {
	log := n.logger.With("client_id", ev.ClientID, "alert", ev.Alert)
	ctx := context.Background()

	if n.store != nil {
		rec := database.AlertEventRecord{ClientID: ev.ClientID, Alert: ev.Alert, Frame: ev.Frame, Timestamp: ev.at}
		sctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		err := n.store.SaveAlertEvent(sctx, rec)
		cancel()
		if err != nil {
			log.Warn("failed to record alert", "error", err)
		}
	}

	for _, sink := range n.sinks {
		sctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		err := sink.Send(sctx, ev)
		cancel()
		if err != nil {
			log.Warn("failed to deliver alert", "sink", sink.Name(), "error", err)
			continue
		}
		log.Debug("alert delivered", "sink", sink.Name(), "frame", ev.Frame)
	}
}
