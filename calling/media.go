package calling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"chatflow/signaling/models"
)

// MediaConfig holds configuration for the media engine.
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use.
	ICEServers []webrtc.ICEServer
}

// DefaultMediaConfig returns a MediaConfig with public STUN. Pion needs an
// explicit server to discover a srflx candidate behind NAT.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// MediaEngine owns the WebRTC peer connection and the local capture tracks
// for one call. It exists only while a session does: the session state
// machine creates it on initiate/accept and closes it on every exit path, so
// a closed call never keeps a device handle.
type MediaEngine struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	audioTrack     *webrtc.TrackLocalStaticSample
	videoTrack     *webrtc.TrackLocalStaticSample
	audioEnabled   bool
	videoEnabled   bool
	closed         bool

	onRemoteTrack  func(track *webrtc.TrackRemote)
	onICECandidate func(candidate *webrtc.ICECandidate)
}

// NewMediaEngine acquires local tracks for the given call kind and builds the
// peer connection. Errors here mean the call cannot start at all.
func NewMediaEngine(config *MediaConfig, kind models.CallKind) (*MediaEngine, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	// Default interceptors (RTCP reports, NACK, TWCC) are required when using
	// a custom MediaEngine, otherwise inbound SRTP is not processed properly.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &MediaEngine{
		peerConnection: pc,
		audioEnabled:   true,
		videoEnabled:   kind == models.CallVideo,
	}

	engine.audioTrack, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "chatflow-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	if _, err := pc.AddTrack(engine.audioTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio track: %w", err)
	}

	if kind == models.CallVideo {
		engine.videoTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "chatflow-video",
		)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		if _, err := pc.AddTrack(engine.videoTrack); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		engine.mu.Lock()
		handler := engine.onICECandidate
		engine.mu.Unlock()
		if handler != nil {
			handler(c)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		engine.mu.Lock()
		handler := engine.onRemoteTrack
		engine.mu.Unlock()
		if handler != nil {
			handler(track)
		}
	})

	return engine, nil
}

// OnICECandidate registers the trickle-candidate handler. Candidates start
// arriving once a local description is set, so register before CreateOffer
// or CreateAnswer.
func (me *MediaEngine) OnICECandidate(handler func(candidate *webrtc.ICECandidate)) {
	me.mu.Lock()
	me.onICECandidate = handler
	me.mu.Unlock()
}

// OnRemoteTrack registers the handler fired when the peer's media arrives.
func (me *MediaEngine) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	me.mu.Lock()
	me.onRemoteTrack = handler
	me.mu.Unlock()
}

// CreateOffer produces the local offer SDP and applies it locally.
func (me *MediaEngine) CreateOffer() (string, error) {
	offer, err := me.peerConnection.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := me.peerConnection.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

// SetRemoteOffer applies the peer's offer.
func (me *MediaEngine) SetRemoteOffer(sdp string) error {
	err := me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	return nil
}

// CreateAnswer produces the local answer SDP and applies it locally. Valid
// only after SetRemoteOffer.
func (me *MediaEngine) CreateAnswer() (string, error) {
	answer, err := me.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := me.peerConnection.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteAnswer applies the peer's answer to our outstanding offer.
func (me *MediaEngine) SetRemoteAnswer(sdp string) error {
	err := me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

// AddICECandidate applies one trickled candidate from the peer. The raw JSON
// is whatever the peer's ICE agent produced.
func (me *MediaEngine) AddICECandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("failed to parse candidate: %w", err)
	}
	if err := me.peerConnection.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

// SetAudioEnabled flips the local microphone. Sample writers consult the flag,
// so muting stops outbound audio without renegotiation.
func (me *MediaEngine) SetAudioEnabled(enabled bool) {
	me.mu.Lock()
	me.audioEnabled = enabled
	me.mu.Unlock()
}

// SetVideoEnabled flips the local camera. No-op on voice calls.
func (me *MediaEngine) SetVideoEnabled(enabled bool) {
	me.mu.Lock()
	if me.videoTrack != nil {
		me.videoEnabled = enabled
	}
	me.mu.Unlock()
}

func (me *MediaEngine) AudioEnabled() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.audioEnabled
}

func (me *MediaEngine) VideoEnabled() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.videoEnabled
}

// WriteAudioSample feeds one encoded audio sample to the peer. Silently
// dropped while muted.
func (me *MediaEngine) WriteAudioSample(data []byte, duration time.Duration) error {
	me.mu.Lock()
	enabled := me.audioEnabled
	me.mu.Unlock()
	if !enabled {
		return nil
	}
	return me.audioTrack.WriteSample(media.Sample{Data: data, Duration: duration})
}

// WriteVideoSample feeds one encoded video frame to the peer. Silently
// dropped while video is off or on voice calls.
func (me *MediaEngine) WriteVideoSample(data []byte, duration time.Duration) error {
	me.mu.Lock()
	track := me.videoTrack
	enabled := me.videoEnabled
	me.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// ConnectionState exposes the underlying peer connection state.
func (me *MediaEngine) ConnectionState() webrtc.PeerConnectionState {
	return me.peerConnection.ConnectionState()
}

// Close releases the peer connection and with it the local tracks. Idempotent.
func (me *MediaEngine) Close() error {
	me.mu.Lock()
	if me.closed {
		me.mu.Unlock()
		return nil
	}
	me.closed = true
	me.mu.Unlock()

	return me.peerConnection.Close()
}
