package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/session"
)

type fakeNegotiator struct {
	mu         sync.Mutex
	offers     []SessionDescription
	candidates []ICECandidate
	fail       bool
}

func (f *fakeNegotiator) Offer(_ context.Context, _ string, offer SessionDescription, trickle func(ICECandidate)) (SessionDescription, error) {
	f.mu.Lock()
	f.offers = append(f.offers, offer)
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return SessionDescription{}, errors.New("bad sdp")
	}
	trickle(ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	return SessionDescription{SDP: "v=0 answer", SDPType: "answer"}, nil
}

func (f *fakeNegotiator) AddCandidate(_ string, c ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeNegotiator) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func setup(t *testing.T, neg Negotiator) (*session.Manager, string) {
	t.Helper()
	sessions := session.NewManager()
	srv := httptest.NewServer(NewHandler(sessions, neg, time.Minute, nil))
	t.Cleanup(func() {
		sessions.CloseAll()
		srv.Close()
	})
	return sessions, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	return c
}

func TestWelcomeOnConnect(t *testing.T) {
	sessions, url := setup(t, &fakeNegotiator{})
	c := dial(t, url+"?client_id=driver-1")
	defer c.Close()

	var welcome WelcomeMessage
	require.NoError(t, c.ReadJSON(&welcome))
	assert.Equal(t, TypeWelcome, welcome.Type)
	assert.Equal(t, "driver-1", welcome.ClientID)
	assert.True(t, sessions.HasSession("driver-1"))
}

func TestGeneratedClientID(t *testing.T) {
	_, url := setup(t, nil)
	c := dial(t, url)
	defer c.Close()

	var welcome WelcomeMessage
	require.NoError(t, c.ReadJSON(&welcome))
	assert.Len(t, welcome.ClientID, 36)
}

func TestOfferAnswerAndCandidates(t *testing.T) {
	neg := &fakeNegotiator{}
	_, url := setup(t, neg)
	c := dial(t, url+"?client_id=a")
	defer c.Close()

	var welcome WelcomeMessage
	require.NoError(t, c.ReadJSON(&welcome))

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, c.WriteJSON(map[string]any{"type": "bogus"}))
	require.NoError(t, c.WriteJSON(map[string]any{"type": "offer", "sdp": "v=0 offer", "sdpType": "offer"}))

	var cand CandidateMessage
	require.NoError(t, c.ReadJSON(&cand))
	assert.Equal(t, TypeICECandidate, cand.Type)
	assert.Contains(t, cand.Candidate.Candidate, "typ host")

	var answer AnswerMessage
	require.NoError(t, c.ReadJSON(&answer))
	assert.Equal(t, AnswerMessage{Type: TypeAnswer, SDP: "v=0 answer", SDPType: "answer"}, answer)

	mid := "0"
	require.NoError(t, c.WriteJSON(Inbound{Type: TypeICECandidate, Candidate: &ICECandidate{Candidate: "candidate:2", SDPMid: &mid}}))
	assert.Eventually(t, func() bool { return neg.candidateCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestOfferFailureReportsError(t *testing.T) {
	_, url := setup(t, &fakeNegotiator{fail: true})
	c := dial(t, url+"?client_id=a")
	defer c.Close()

	var welcome WelcomeMessage
	require.NoError(t, c.ReadJSON(&welcome))
	require.NoError(t, c.WriteJSON(map[string]any{"type": "offer", "sdp": "x"}))

	var msg ErrorMessage
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
	assert.NotEmpty(t, msg.Message)
}

func TestDisconnectDetachesAndReconnectReattaches(t *testing.T) {
	sessions, url := setup(t, nil)
	c := dial(t, url+"?client_id=a")
	var welcome WelcomeMessage
	require.NoError(t, c.ReadJSON(&welcome))
	c.Close()

	assert.Eventually(t, func() bool { return sessions.Stats().ActiveConnections == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sessions.HasSession("a"), "session survives a dropped socket")

	c2 := dial(t, url+"?client_id=a")
	defer c2.Close()
	require.NoError(t, c2.ReadJSON(&welcome))
	assert.Equal(t, "a", welcome.ClientID)
	assert.Equal(t, 1, sessions.Stats().Sessions)
}

func TestParseInbound(t *testing.T) {
	_, err := ParseInbound([]byte(`{"sdp":"x"}`))
	assert.Error(t, err)

	msg, err := ParseInbound([]byte(`{"type":"ice-candidate","candidate":{"candidate":"c","sdpMid":"0","sdpMLineIndex":0}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Candidate)
	require.NotNil(t, msg.Candidate.SDPMLineIndex)
	assert.EqualValues(t, 0, *msg.Candidate.SDPMLineIndex)
}
