// Package rtc terminates the browser's WebRTC connection and turns its
// video track into decoded frames.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"vigil/internal/session"
	"vigil/internal/ws"
)

// FrameHandler consumes the decoded frames of one client.
type FrameHandler interface {
	HandleFrame(ctx context.Context, img image.Image, at time.Time)
}

// HandlerFactory creates the frame handler for a newly received track.
type HandlerFactory func(clientID string) FrameHandler

// Config configures the transport.
type Config struct {
	STUNURLs []string
	// KeyframeInterval is how often a key frame is requested from the sender.
	KeyframeInterval time.Duration
}

// Service creates one peer connection per client and registers its handles
// with the session manager.
type Service struct {
	api      *webrtc.API
	ice      []webrtc.ICEServer
	cfg      Config
	sessions *session.Manager
	handlers HandlerFactory
	logger   *slog.Logger
}

// NewService builds a VP8-only WebRTC stack.
func NewService(cfg Config, sessions *session.Manager, handlers HandlerFactory, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 500 * time.Millisecond
	}

	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("register vp8: %w", err)
	}
	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	var ice []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		ice = []webrtc.ICEServer{{URLs: cfg.STUNURLs}}
	}

	return &Service{
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg)),
		ice:      ice,
		cfg:      cfg,
		sessions: sessions,
		handlers: handlers,
		logger:   logger.With("component", "rtc"),
	}, nil
}

// Offer implements ws.Negotiator. A new offer replaces any earlier peer of
// the same client.
func (s *Service) Offer(ctx context.Context, clientID string, offer ws.SessionDescription, trickle func(ws.ICECandidate)) (ws.SessionDescription, error) {
	log := s.logger.With("client_id", clientID)

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: s.ice})
	if err != nil {
		return ws.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	s.sessions.RegisterPeer(clientID, pc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || trickle == nil {
			return
		}
		init := c.ToJSON()
		trickle(ws.ICECandidate{Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			// Only the transport goes; the socket may renegotiate.
			go s.sessions.DetachPeer(clientID, pc)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info("data channel", "label", dc.Label())
		s.sessions.RegisterDataChannel(clientID, &dataChannel{dc: dc})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		log.Info("video track", "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))
		if s.handlers == nil {
			return
		}
		handler := s.handlers(clientID)
		if handler == nil {
			return
		}
		ssrc := uint32(track.SSRC())
		task := session.Go(context.Background(), func(ctx context.Context) {
			go requestKeyframes(ctx, pc, ssrc, s.cfg.KeyframeInterval, log)
			if err := consume(ctx, track, handler, time.Now); err != nil {
				log.Warn("track ended", "error", err)
			}
		})
		s.sessions.RegisterTask(clientID, task)
	})

	if err := s.negotiate(pc, offer); err != nil {
		s.sessions.DetachPeer(clientID, pc)
		return ws.SessionDescription{}, err
	}
	local := pc.LocalDescription()
	return ws.SessionDescription{SDP: local.SDP, SDPType: local.Type.String()}, nil
}

func (s *Service) negotiate(pc *webrtc.PeerConnection, offer ws.SessionDescription) error {
	remote := webrtc.SessionDescription{Type: webrtc.NewSDPType(offer.SDPType), SDP: offer.SDP}
	if remote.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("expected offer, got %q", offer.SDPType)
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// ErrNoPeer is returned for candidates that arrive before any offer.
var ErrNoPeer = errors.New("no peer connection")

// AddCandidate implements ws.Negotiator.
func (s *Service) AddCandidate(clientID string, c ws.ICECandidate) error {
	pc, ok := s.sessions.Peer(clientID).(*webrtc.PeerConnection)
	if !ok || pc == nil {
		return ErrNoPeer
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) SendText(s string) error { return d.dc.SendText(s) }

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}
