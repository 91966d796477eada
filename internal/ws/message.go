package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types exchanged on the signaling socket.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeWelcome      = "welcome"
	TypeError        = "error"
)

// SessionDescription is an SDP blob with its kind ("offer" or "answer").
type SessionDescription struct {
	SDP     string `json:"sdp"`
	SDPType string `json:"sdpType"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Inbound is the union of every message a client may send. Only the fields
// belonging to Type are meaningful.
type Inbound struct {
	Type      string        `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	SDPType   string        `json:"sdpType,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// ParseInbound decodes a raw frame from the socket.
func ParseInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode signaling message: %w", err)
	}
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("signaling message without type")
	}
	return msg, nil
}

// WelcomeMessage is sent on every (re)attachment of a socket.
type WelcomeMessage struct {
	Type      string    `json:"type"` // "welcome"
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWelcomeMessage creates a welcome for clientID.
func NewWelcomeMessage(clientID string, at time.Time) *WelcomeMessage {
	return &WelcomeMessage{Type: TypeWelcome, ClientID: clientID, Timestamp: at}
}

// AnswerMessage carries the server's SDP answer.
type AnswerMessage struct {
	Type    string `json:"type"` // "answer"
	SDP     string `json:"sdp"`
	SDPType string `json:"sdpType"`
}

// NewAnswerMessage wraps a local description.
func NewAnswerMessage(desc SessionDescription) *AnswerMessage {
	return &AnswerMessage{Type: TypeAnswer, SDP: desc.SDP, SDPType: desc.SDPType}
}

// CandidateMessage carries a server-side ICE candidate.
type CandidateMessage struct {
	Type      string       `json:"type"` // "ice-candidate"
	Candidate ICECandidate `json:"candidate"`
}

// NewCandidateMessage wraps a local candidate.
func NewCandidateMessage(c ICECandidate) *CandidateMessage {
	return &CandidateMessage{Type: TypeICECandidate, Candidate: c}
}

// ErrorMessage reports a failure to the client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// NewErrorMessage creates an error message.
func NewErrorMessage(msg string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Message: msg}
}
