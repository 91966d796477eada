package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/metrics"
)

type botAPI struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]any
	fail     bool
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]any
	json.NewDecoder(r.Body).Decode(&p)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.payloads = append(b.payloads, p)
	fail := b.fail
	b.mu.Unlock()
	if fail {
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":{}}`))
}

func (b *botAPI) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.paths)
}

func (b *botAPI) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func newTelegramTest(t *testing.T) (*TelegramSink, *botAPI, *time.Time) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "123:abc", ChatID: "-100", APIBase: srv.URL, Cooldown: time.Minute})
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	sink.now = func() time.Time { return now }
	return sink, api, &now
}

func TestTelegramSinkSendsMessage(t *testing.T) {
	sink, api, _ := newTelegramTest(t)

	ev := Event{
		ClientID:  "cab<7>",
		Alert:     metrics.AlertPERCLOS,
		Frame:     12,
		Timestamp: 1700000000,
		Metrics:   metrics.MetricsOutput{EyeClosure: &metrics.EyeClosureOutput{PERCLOS: 0.42}},
	}
	require.NoError(t, sink.Send(context.Background(), ev))

	require.Equal(t, 1, api.calls())
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	p := api.payloads[0]
	assert.Equal(t, "-100", p["chat_id"])
	assert.Equal(t, "HTML", p["parse_mode"])
	text := p["text"].(string)
	assert.Contains(t, text, "Drowsiness (PERCLOS)")
	assert.Contains(t, text, "cab&lt;7&gt;")
	assert.Contains(t, text, "Frame 12 at 22:13:20 UTC")
	assert.Contains(t, text, "PERCLOS: 42%")
}

func TestTelegramSinkCooldown(t *testing.T) {
	sink, api, now := newTelegramTest(t)
	ev := Event{ClientID: "a", Alert: metrics.AlertYawn}

	require.NoError(t, sink.Send(context.Background(), ev))
	require.NoError(t, sink.Send(context.Background(), ev))
	require.NoError(t, sink.Send(context.Background(), Event{ClientID: "b", Alert: metrics.AlertYawn}))
	assert.Equal(t, 2, api.calls())

	*now = now.Add(time.Minute)
	require.NoError(t, sink.Send(context.Background(), ev))
	assert.Equal(t, 3, api.calls())
}

func TestTelegramSinkAPIError(t *testing.T) {
	sink, api, _ := newTelegramTest(t)
	api.setFail(true)
	ev := Event{ClientID: "a", Alert: metrics.AlertGaze}

	err := sink.Send(context.Background(), ev)
	assert.ErrorContains(t, err, "chat not found")

	// A failed send does not start the cooldown.
	api.setFail(false)
	require.NoError(t, sink.Send(context.Background(), ev))
	assert.Equal(t, 2, api.calls())
}

func TestTelegramConfigValidate(t *testing.T) {
	_, err := NewTelegramSink(TelegramConfig{ChatID: "1"})
	assert.Error(t, err)
	_, err = NewTelegramSink(TelegramConfig{BotToken: "t"})
	assert.Error(t, err)
	_, err = NewTelegramSink(TelegramConfig{BotToken: "t", ChatID: "1", Cooldown: -time.Second})
	assert.Error(t, err)
}
