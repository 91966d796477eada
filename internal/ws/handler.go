package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vigil/internal/session"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 64 * 1024 // SDP offers are a few KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from other origins; access is gated
		// by the token middleware instead.
		return true
	},
}

// Negotiator establishes the media transport for a client.
type Negotiator interface {
	// Offer applies a remote offer and returns the local answer. Local ICE
	// candidates gathered afterwards are passed to trickle.
	Offer(ctx context.Context, clientID string, offer SessionDescription, trickle func(ICECandidate)) (SessionDescription, error)
	AddCandidate(clientID string, c ICECandidate) error
}

// Handler serves the driver-monitoring signaling socket.
type Handler struct {
	sessions   *session.Manager
	negotiator Negotiator
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a signaling handler.
func NewHandler(sessions *session.Manager, negotiator Negotiator, ttl time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:   sessions,
		negotiator: negotiator,
		ttl:        ttl,
		logger:     logger.With("component", "ws"),
		now:        time.Now,
	}
}

// ServeHTTP upgrades the request. The client id is taken from the
// client_id query parameter or generated.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if n := h.sessions.CleanupExpiredSessions(h.ttl); n > 0 {
		h.logger.Info("swept expired sessions", "count", n)
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn := NewConn(raw)
	log := h.logger.With("client_id", clientID)

	reattach := h.sessions.IsSessionValid(clientID, h.ttl)
	h.sessions.RegisterSocket(clientID, conn)
	log.Info("socket attached", "remote", r.RemoteAddr, "reattach", reattach)

	if err := conn.WriteJSON(NewWelcomeMessage(clientID, h.now())); err != nil {
		log.Warn("welcome failed", "error", err)
	}

	go h.readPump(clientID, conn, raw, log)
}

// readPump handles one client's messages in order until the socket closes.
func (h *Handler) readPump(clientID string, conn *Conn, raw *websocket.Conn, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	defer func() {
		close(done)
		cancel()
		h.sessions.DetachSocket(clientID, conn)
		conn.Close()
		log.Info("socket detached")
	}()

	raw.SetReadLimit(maxMessage)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		h.sessions.Touch(clientID)
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		h.sessions.Touch(clientID)

		msg, err := ParseInbound(data)
		if err != nil {
			log.Warn("skipping malformed message", "error", err)
			continue
		}
		h.dispatch(ctx, clientID, conn, msg, log)
	}
}

func (h *Handler) dispatch(ctx context.Context, clientID string, conn *Conn, msg Inbound, log *slog.Logger) {
	switch msg.Type {
	case TypeOffer:
		if h.negotiator == nil {
			h.reply(conn, NewErrorMessage("media transport unavailable"), log)
			return
		}
		offer := SessionDescription{SDP: msg.SDP, SDPType: msg.SDPType}
		if offer.SDPType == "" {
			offer.SDPType = TypeOffer
		}
		trickle := func(c ICECandidate) {
			// Routed through the manager so candidates follow a reconnect.
			h.sessions.SendMessage(clientID, NewCandidateMessage(c))
		}
		answer, err := h.negotiator.Offer(ctx, clientID, offer, trickle)
		if err != nil {
			log.Error("offer failed", "error", err)
			h.reply(conn, NewErrorMessage("failed to process offer"), log)
			return
		}
		h.reply(conn, NewAnswerMessage(answer), log)

	case TypeICECandidate:
		if msg.Candidate == nil || h.negotiator == nil {
			return
		}
		if err := h.negotiator.AddCandidate(clientID, *msg.Candidate); err != nil {
			log.Warn("add candidate failed", "error", err)
		}

	default:
		log.Warn("unknown message type", "type", msg.Type)
	}
}

func (h *Handler) reply(conn *Conn, v any, log *slog.Logger) {
	if err := conn.WriteJSON(v); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Warn("reply failed", "error", err)
	}
}
