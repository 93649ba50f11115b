package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignalKind identifies the role of a signaling event in the offer/answer
// exchange. The wire values are fixed; clients and server must agree exactly.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalEndCall   SignalKind = "end-call"
)

// Valid reports whether k is one of the four known signal kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalEndCall:
		return true
	}
	return false
}

// SignalEvent is one queued signaling message. The payload is opaque to the
// relay: it is stored and returned as raw JSON so session descriptions and
// ICE candidates round-trip byte-identical.
type SignalEvent struct {
	ID          uuid.UUID       `json:"id"`
	Kind        SignalKind      `json:"kind"`
	SenderID    string          `json:"sender_id"`
	RecipientID string          `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SendSignalRequest is the body of POST /api/signal/send. The sender identity
// comes from the verified token, never from the body.
type SendSignalRequest struct {
	RecipientID string          `json:"recipient_id" binding:"required"`
	Kind        SignalKind      `json:"kind" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
}

// CallKind distinguishes voice-only from video calls. Carried inside offer
// payloads; never interpreted by the relay.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// OfferPayload is the payload shape of an "offer" event.
type OfferPayload struct {
	CallKind CallKind `json:"call_kind"`
	SDP      string   `json:"sdp"`
}

// AnswerPayload is the payload shape of an "answer" event.
type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload is the payload shape of a "candidate" event. The candidate
// JSON is kept raw so whatever the peer's ICE agent produced survives the
// relay untouched.
type CandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}
