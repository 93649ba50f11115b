// Package calling is the client side of the signaling exchange: the call
// session state machine, the WebRTC media engine it drives, and the polling
// transport that feeds it. A Manager tracks at most one call at a time and is
// driven entirely by drained mailbox events and local user actions.
package calling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"chatflow/signaling/models"
	"chatflow/signaling/utils"
)

// Phase is the lifecycle position of the current call, if any.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseOutgoing
	PhaseIncoming
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseOutgoing:
		return "outgoing"
	case PhaseIncoming:
		return "incoming"
	case PhaseActive:
		return "active"
	}
	return "none"
}

// EndReason says why a session ended, for surfacing to the user.
type EndReason string

const (
	EndReasonLocalHangup       EndReason = "hangup"
	EndReasonRemoteHangup      EndReason = "remote-hangup"
	EndReasonNoAnswer          EndReason = "no-answer"
	EndReasonNegotiationFailed EndReason = "negotiation-failed"
)

// IncomingCall describes an offer waiting for a local accept or reject.
type IncomingCall struct {
	PeerID string
	Kind   models.CallKind
}

// ConversationNotifier receives the one-way "call started" side effect for
// the conversation log. Implementations must not fail the call; log and move
// on.
type ConversationNotifier interface {
	CallStarted(ctx context.Context, peerID string, kind models.CallKind)
}

// session carries exactly the state valid for its phase: Outgoing and Active
// always hold media, Incoming holds only the stored remote offer until the
// user accepts. A nil session on the Manager means PhaseNone; there is never
// a media handle without a session.
type session struct {
	peerID      string
	kind        models.CallKind
	phase       Phase
	media       *MediaEngine
	remoteOffer string
	ringTimer   *time.Timer
}

func (s *session) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// release stops the ring timer and closes the media engine, freeing capture
// devices. Safe on sessions that never acquired media.
func (s *session) release() {
	s.stopRing()
	if s.media != nil {
		_ = s.media.Close()
	}
}

// Manager is the per-client call session state machine. All inbound signaling
// goes through Handle; user actions go through Initiate, Accept, Reject,
// Hangup and the toggles. The Poller feeds Handle one event at a time, so
// event processing never interleaves within a drain batch.
type Manager struct {
	client      *Client
	mediaConfig *MediaConfig
	ringTimeout time.Duration
	logger      *utils.Logger

	mu           sync.Mutex
	sess         *session
	conversation ConversationNotifier

	onIncoming func(IncomingCall)
	onEnded    func(peerID string, reason EndReason)
}

// NewManager creates a call manager speaking through client. ringTimeout
// bounds how long an outgoing call waits for an answer before giving up as
// unreachable; zero disables the timeout.
func NewManager(client *Client, mediaConfig *MediaConfig, ringTimeout time.Duration, logger *utils.Logger) *Manager {
	return &Manager{
		client:      client,
		mediaConfig: mediaConfig,
		ringTimeout: ringTimeout,
		logger:      logger,
	}
}

// OnIncoming registers the callback fired when an offer arrives while idle.
// The callback may call Accept or Reject directly.
func (m *Manager) OnIncoming(fn func(IncomingCall)) {
	m.mu.Lock()
	m.onIncoming = fn
	m.mu.Unlock()
}

// OnEnded registers the callback fired whenever a session ends for any
// reason other than a local Hangup/Reject returning normally.
func (m *Manager) OnEnded(fn func(peerID string, reason EndReason)) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

// SetConversationNotifier wires the conversation-log side effect.
func (m *Manager) SetConversationNotifier(n ConversationNotifier) {
	m.mu.Lock()
	m.conversation = n
	m.mu.Unlock()
}

// Phase returns the current call phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return PhaseNone
	}
	return m.sess.phase
}

// Peer returns the current peer and call kind, ok=false when idle.
func (m *Manager) Peer() (peerID string, kind models.CallKind, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return "", "", false
	}
	return m.sess.peerID, m.sess.kind, true
}

// Initiate starts an outgoing call: acquires media, sends the offer and moves
// to PhaseOutgoing. Returns ErrBusy while any call exists: one call at a
// time, there is no queuing.
func (m *Manager) Initiate(ctx context.Context, peerID string, kind models.CallKind) error {
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return ErrBusy
	}
	// Reserve the slot before the slow media acquisition so two concurrent
	// initiations cannot both pass the guard.
	newSess := &session{peerID: peerID, kind: kind, phase: PhaseOutgoing}
	m.sess = newSess
	m.mu.Unlock()

	media, err := NewMediaEngine(m.mediaConfig, kind)
	if err != nil {
		m.clearSession(newSess)
		return fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	m.wireCandidates(media, peerID)

	offerSDP, err := media.CreateOffer()
	if err != nil {
		_ = media.Close()
		m.clearSession(newSess)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	// The media handle must be on the session before the offer leaves, so an
	// answer drained while the deposit is still in flight finds a usable
	// negotiation context.
	m.mu.Lock()
	newSess.media = media
	notifier := m.conversation
	m.mu.Unlock()

	payload := models.OfferPayload{CallKind: kind, SDP: offerSDP}
	if err := m.client.Deposit(ctx, peerID, models.SignalOffer, payload); err != nil {
		_ = media.Close()
		m.clearSession(newSess)
		return err
	}

	m.mu.Lock()
	if m.sess == newSess && m.ringTimeout > 0 {
		newSess.ringTimer = time.AfterFunc(m.ringTimeout, func() {
			m.ringExpired(peerID)
		})
	}
	m.mu.Unlock()

	m.logger.Info("call initiated", "peer", peerID, "kind", kind)

	if notifier != nil {
		notifier.CallStarted(ctx, peerID, kind)
	}
	return nil
}

// Accept answers the pending incoming call: acquires media, applies the
// stored offer, sends the answer and moves to PhaseActive.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.phase != PhaseIncoming {
		m.mu.Unlock()
		return ErrNoSession
	}
	peerID, kind, offer := s.peerID, s.kind, s.remoteOffer
	m.mu.Unlock()

	media, err := NewMediaEngine(m.mediaConfig, kind)
	if err != nil {
		m.abortCall(s)
		return fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	m.wireCandidates(media, peerID)

	if err := media.SetRemoteOffer(offer); err != nil {
		_ = media.Close()
		m.abortCall(s)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	answerSDP, err := media.CreateAnswer()
	if err != nil {
		_ = media.Close()
		m.abortCall(s)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	if err := m.client.Deposit(ctx, peerID, models.SignalAnswer, models.AnswerPayload{SDP: answerSDP}); err != nil {
		_ = media.Close()
		m.abortCall(s)
		return err
	}

	m.mu.Lock()
	if m.sess != s {
		// The caller hung up while we were negotiating.
		m.mu.Unlock()
		_ = media.Close()
		return ErrNoSession
	}
	s.media = media
	s.remoteOffer = ""
	s.phase = PhaseActive
	m.mu.Unlock()

	m.logger.Info("call accepted", "peer", peerID, "kind", kind)
	return nil
}

// Reject declines the pending incoming call and tells the caller.
func (m *Manager) Reject(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.phase != PhaseIncoming {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.sess = nil
	m.mu.Unlock()

	s.release()
	if err := m.client.Deposit(ctx, s.peerID, models.SignalEndCall, struct{}{}); err != nil {
		m.logger.Warn("failed to send reject", "peer", s.peerID, "error", err)
	}
	m.logger.Info("call rejected", "peer", s.peerID)
	return nil
}

// Hangup tears down whatever call exists and tells the peer. Idempotent;
// hanging up while idle is a no-op.
func (m *Manager) Hangup(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	m.sess = nil
	m.mu.Unlock()

	s.release()
	if err := m.client.Deposit(ctx, s.peerID, models.SignalEndCall, struct{}{}); err != nil {
		m.logger.Warn("failed to send end-call", "peer", s.peerID, "error", err)
	}
	m.logger.Info("call ended", "peer", s.peerID, "reason", EndReasonLocalHangup)
	m.notifyEnded(s.peerID, EndReasonLocalHangup)
	return nil
}

// activeMedia returns the media engine of the active call. Toggles are only
// meaningful once both sides have negotiated.
func (m *Manager) activeMedia() (*MediaEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.phase != PhaseActive || m.sess.media == nil {
		return nil, ErrNoSession
	}
	return m.sess.media, nil
}

// ToggleMute flips the microphone during an active call and reports the new
// muted state.
func (m *Manager) ToggleMute() (muted bool, err error) {
	media, err := m.activeMedia()
	if err != nil {
		return false, err
	}
	muted = media.AudioEnabled()
	media.SetAudioEnabled(!muted)
	return muted, nil
}

// ToggleVideo flips the camera during an active video call and reports
// whether video is now off.
func (m *Manager) ToggleVideo() (videoOff bool, err error) {
	media, err := m.activeMedia()
	if err != nil {
		return false, err
	}
	videoOff = media.VideoEnabled()
	media.SetVideoEnabled(!videoOff)
	return videoOff, nil
}

// OnRemoteTrack registers the handler for the peer's media during the
// current call. Valid in any phase that holds media.
func (m *Manager) OnRemoteTrack(fn func(track *webrtc.TrackRemote)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.media == nil {
		return ErrNoSession
	}
	m.sess.media.OnRemoteTrack(fn)
	return nil
}

// Handle consumes one drained signaling event. It runs to completion without
// suspension so two events from the same drain batch never interleave.
func (m *Manager) Handle(ctx context.Context, event models.SignalEvent) {
	switch event.Kind {
	case models.SignalOffer:
		m.handleOffer(event)
	case models.SignalAnswer:
		m.handleAnswer(event)
	case models.SignalCandidate:
		m.handleCandidate(event)
	case models.SignalEndCall:
		m.handleEndCall(event)
	default:
		m.logger.Warn("unknown signal kind", "kind", event.Kind, "sender", event.SenderID)
	}
}

func (m *Manager) handleOffer(event models.SignalEvent) {
	var payload models.OfferPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.SDP == "" {
		m.logger.Warn("dropping malformed offer", "sender", event.SenderID, "error", err)
		return
	}
	if payload.CallKind != models.CallVideo {
		payload.CallKind = models.CallVoice
	}

	m.mu.Lock()
	if m.sess != nil {
		// Busy: the offer is silently dropped and the caller times out.
		phase := m.sess.phase
		m.mu.Unlock()
		m.logger.Info("dropping offer while busy", "sender", event.SenderID, "phase", phase)
		return
	}
	m.sess = &session{
		peerID:      event.SenderID,
		kind:        payload.CallKind,
		phase:       PhaseIncoming,
		remoteOffer: payload.SDP,
	}
	cb := m.onIncoming
	m.mu.Unlock()

	m.logger.Info("incoming call", "peer", event.SenderID, "kind", payload.CallKind)
	if cb != nil {
		cb(IncomingCall{PeerID: event.SenderID, Kind: payload.CallKind})
	}
}

func (m *Manager) handleAnswer(event models.SignalEvent) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.phase != PhaseOutgoing || s.media == nil || s.peerID != event.SenderID {
		// A nil media handle means our offer has not actually been sent yet,
		// so this answer cannot be a reply to it.
		m.mu.Unlock()
		m.logger.Debug("ignoring answer", "sender", event.SenderID)
		return
	}
	media := s.media
	m.mu.Unlock()

	var payload models.AnswerPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.SDP == "" {
		// Recoverable: the session keeps ringing until the timeout.
		m.logger.Warn("dropping malformed answer", "sender", event.SenderID, "error", err)
		return
	}

	if err := media.SetRemoteAnswer(payload.SDP); err != nil {
		// The negotiation context is unusable; tear the call down.
		m.logger.Error("failed to apply answer", "peer", s.peerID, "error", err)
		m.mu.Lock()
		if m.sess == s {
			m.sess = nil
		}
		m.mu.Unlock()
		s.release()
		if err := m.client.Deposit(context.Background(), s.peerID, models.SignalEndCall, struct{}{}); err != nil {
			m.logger.Warn("failed to send end-call", "peer", s.peerID, "error", err)
		}
		m.notifyEnded(s.peerID, EndReasonNegotiationFailed)
		return
	}

	m.mu.Lock()
	if m.sess == s {
		s.stopRing()
		s.phase = PhaseActive
	}
	m.mu.Unlock()
	m.logger.Info("call active", "peer", s.peerID)
}

func (m *Manager) handleCandidate(event models.SignalEvent) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.media == nil || s.peerID != event.SenderID {
		// No negotiation context yet; a candidate that raced ahead of its
		// offer or answer is dropped, which ICE tolerates.
		m.mu.Unlock()
		m.logger.Debug("ignoring candidate", "sender", event.SenderID)
		return
	}
	media := s.media
	m.mu.Unlock()

	var payload models.CandidatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		m.logger.Warn("dropping malformed candidate", "sender", event.SenderID, "error", err)
		return
	}
	if err := media.AddICECandidate(payload.Candidate); err != nil {
		// Recoverable: session unchanged, other candidates may still connect.
		m.logger.Warn("dropping unusable candidate", "sender", event.SenderID, "error", err)
	}
}

func (m *Manager) handleEndCall(event models.SignalEvent) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.peerID != event.SenderID {
		m.mu.Unlock()
		m.logger.Debug("ignoring end-call", "sender", event.SenderID)
		return
	}
	m.sess = nil
	m.mu.Unlock()

	// No end-call echo back, that would ping-pong forever.
	s.release()
	m.logger.Info("call ended", "peer", s.peerID, "reason", EndReasonRemoteHangup)
	m.notifyEnded(s.peerID, EndReasonRemoteHangup)
}

// ringExpired fires when an outgoing call waited the full ring timeout with
// no answer. The peer is either offline or its mailbox already expired our
// offer, so the call is declared failed instead of ringing forever.
func (m *Manager) ringExpired(peerID string) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.phase != PhaseOutgoing || s.peerID != peerID {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	s.release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Deposit(ctx, peerID, models.SignalEndCall, struct{}{}); err != nil {
		m.logger.Warn("failed to send end-call", "peer", peerID, "error", err)
	}
	m.logger.Info("call ended", "peer", peerID, "reason", EndReasonNoAnswer)
	m.notifyEnded(peerID, EndReasonNoAnswer)
}

// wireCandidates trickles locally gathered ICE candidates to the peer as
// candidate events. Deposit failures are logged and dropped; ICE keeps
// working with whatever candidates do arrive.
func (m *Manager) wireCandidates(media *MediaEngine, peerID string) {
	media.OnICECandidate(func(c *webrtc.ICECandidate) {
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			m.logger.Warn("failed to encode candidate", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload := models.CandidatePayload{Candidate: raw}
		if err := m.client.Deposit(ctx, peerID, models.SignalCandidate, payload); err != nil {
			m.logger.Debug("failed to send candidate", "peer", peerID, "error", err)
		}
	})
}

// abortCall clears the session after a failed Accept and tells the caller,
// so they fail fast instead of waiting out the ring timeout.
func (m *Manager) abortCall(s *session) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	s.release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Deposit(ctx, s.peerID, models.SignalEndCall, struct{}{}); err != nil {
		m.logger.Warn("failed to send end-call", "peer", s.peerID, "error", err)
	}
}

// clearSession removes s if it is still current. Used on failed initiation
// before the peer ever learned about the call.
func (m *Manager) clearSession(s *session) {
	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.mu.Unlock()
}

func (m *Manager) notifyEnded(peerID string, reason EndReason) {
	m.mu.Lock()
	cb := m.onEnded
	m.mu.Unlock()
	if cb != nil {
		cb(peerID, reason)
	}
}
