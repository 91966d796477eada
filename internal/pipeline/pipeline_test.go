package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/metrics"
)

type stubAnalyzer struct {
	calls int
	err   error
	ctx   metrics.FrameContext
}

func (a *stubAnalyzer) Name() string                   { return "stub" }
func (a *stubAnalyzer) IsHealthy(context.Context) bool { return a.err == nil }
func (a *stubAnalyzer) Close() error                   { return nil }

func (a *stubAnalyzer) Analyze(context.Context, image.Image) (metrics.FrameContext, error) {
	a.calls++
	return a.ctx, a.err
}

type collector struct {
	mu      sync.Mutex
	results []*FrameResult
}

func (c *collector) OnFrameResult(r *FrameResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func TestEventBusFilters(t *testing.T) {
	bus := NewEventBus()
	all, mine := &collector{}, &collector{}
	bus.Subscribe(all)
	unsub := bus.SubscribeClient("a", mine)

	bus.Publish(&FrameResult{ClientID: "a"})
	bus.Publish(&FrameResult{ClientID: "b"})
	bus.Publish(nil)
	assert.Equal(t, 2, all.len())
	assert.Equal(t, 1, mine.len())

	unsub()
	bus.Publish(&FrameResult{ClientID: "a"})
	assert.Equal(t, 1, mine.len())
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBusChannelDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.SubscribeChannel("", 1)
	bus.Publish(&FrameResult{FrameSeq: 1})
	bus.Publish(&FrameResult{FrameSeq: 2})

	r := <-ch
	assert.EqualValues(t, 1, r.FrameSeq)
	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	bus.Close()
}

func newProcessor(t *testing.T, a Analyzer, bus *EventBus) *LiveProcessor {
	t.Helper()
	p, err := NewLiveProcessor("a", a, metrics.DefaultConfig(), bus, LiveConfig{TargetFPS: 10}, nil)
	require.NoError(t, err)
	return p
}

func TestLiveProcessorRateLimits(t *testing.T) {
	a := &stubAnalyzer{}
	bus := NewEventBus()
	c := &collector{}
	bus.Subscribe(c)
	p := newProcessor(t, a, bus)

	base := time.Unix(1000, 0)
	// 30 fps input against a 10 fps target
	for i := 0; i < 30; i++ {
		p.HandleFrame(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), base.Add(time.Duration(i)*time.Second/30))
	}
	assert.Equal(t, 10, a.calls)
	require.Equal(t, 10, c.len())
	assert.EqualValues(t, 10, c.results[9].FrameSeq)
	assert.EqualValues(t, 10, p.Frames())
}

func TestLiveProcessorAnalyzerFailureCountsAsNoFace(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("unavailable")}
	bus := NewEventBus()
	c := &collector{}
	bus.Subscribe(c)
	p := newProcessor(t, a, bus)

	base := time.Unix(1000, 0)
	// 0.5s face-missing at 10 fps needs 5 frames
	for i := 0; i < 5; i++ {
		p.HandleFrame(context.Background(), nil, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	require.Equal(t, 5, c.len())
	assert.True(t, c.results[0].AnalyzerFailed)
	assert.False(t, c.results[3].Metrics.FaceMissing)
	assert.True(t, c.results[4].Metrics.FaceMissing)
}

func TestLiveProcessorCanceledContextPublishesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &stubAnalyzer{err: context.Canceled}
	bus := NewEventBus()
	c := &collector{}
	bus.Subscribe(c)
	newProcessor(t, a, bus).HandleFrame(ctx, nil, time.Now())
	assert.Zero(t, c.len())
}

type recordingSender struct {
	got map[string]any
}

func (s *recordingSender) SendData(id string, msg any) bool {
	s.got[id] = msg
	return true
}

func TestDataChannelForwarder(t *testing.T) {
	s := &recordingSender{got: map[string]any{}}
	f := NewDataChannelForwarder(s)
	f.OnFrameResult(&FrameResult{ClientID: "a", FrameSeq: 3, Timestamp: time.Unix(10, 500_000_000), Metrics: metrics.MetricsOutput{FaceMissing: true}})

	msg, ok := s.got["a"].(*MetricsMessage)
	require.True(t, ok)
	assert.Equal(t, "metrics", msg.Type)
	assert.EqualValues(t, 3, msg.Frame)
	assert.InDelta(t, 10.5, msg.Timestamp, 1e-9)
	assert.True(t, msg.Metrics.FaceMissing)
}
