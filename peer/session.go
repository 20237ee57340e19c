// Package peer implements the per-viewer WebRTC session: the SDP phase
// state machine, ICE candidate queueing, and branch attach/detach against
// the shared media pipeline. Grounded on the teacher's internal/webrtc.go
// HandleOffer (offer/answer/ICE-gathering flow) and internal/media.go
// Client (per-viewer packetizer state), generalized from a single HTTP
// request/response into a long-lived session driven by broker messages.
package peer

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"webrtc-broadcast-core/pipeline"
)

// Phase is the SDP negotiation phase, spec.md §4.3.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseLocalOfferPending
	PhaseLocalOffer
	PhaseRemoteAnswerSet
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "NEW"
	case PhaseLocalOfferPending:
		return "LOCAL_OFFER_PENDING"
	case PhaseLocalOffer:
		return "LOCAL_OFFER"
	case PhaseRemoteAnswerSet:
		return "REMOTE_ANSWER_SET"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// iceMu is the process-wide mutex serializing SDP/ICE mutation across every
// peer's PeerConnection, the documented workaround in spec.md §9 for races
// in the underlying ICE implementation. Per-peer state below still gets its
// own mutex, since the latch and ICE queue are peer-local.
var iceMu sync.Mutex

// OutboundSink is how a Session emits signaling traffic; satisfied by the
// broadcaster's signaling client (cmd/broadcaster), which relays it to the
// broker, kept as an interface here so this package has no import of broker
// (sessions are broker-agnostic, per spec.md §3 ownership: "a PeerSession
// holds only a back reference to the broker for outbound messages").
type OutboundSink interface {
	SendOffer(viewerID, sdp string)
	SendICECandidate(viewerID string, candidate webrtc.ICECandidateInit)
	NotifyViewerLeft(viewerID string)
}

// pendingCandidate is a queued incoming ICE candidate, held until the
// remote description is installed (spec.md §4.3 ICE candidate exchange).
type pendingCandidate struct {
	candidate webrtc.ICECandidateInit
}

// Session is one viewer's WebRTC endpoint plus its SDP/ICE state machine
// and the two splitter branches it holds.
type Session struct {
	ViewerID string

	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP
	videoPktz  rtp.Packetizer
	audioPktz  rtp.Packetizer
	videoSSRC  uint32

	videoBranch *pipeline.Branch
	audioBranch *pipeline.Branch

	sink OutboundSink
	pl   *pipeline.Pipeline

	mu                   sync.Mutex
	phase                Phase
	remoteDescriptionSet bool
	cleanedUp            bool
	iceQueue             []pendingCandidate

	stopVideo chan struct{}
	stopAudio chan struct{}

	sentFrames    uint64
	droppedFrames uint64
	dataChannel   *webrtc.DataChannel
	dcMu          sync.RWMutex
	stopStats     chan struct{}
}

// frameStats is the data-channel payload pushed once a second, adapted from
// the teacher's internal/media.go FrameStats push.
type frameStats struct {
	Type          string `json:"type"`
	SentFrames    uint64 `json:"sentFrames"`
	DroppedFrames uint64 `json:"droppedFrames"`
}

// NewSession creates a peer connection for viewerID, wires a video (and,
// when audioEnabled, audio) track, attaches splitter branches, generates
// the local offer, and emits it to sink. Mirrors the ordering the teacher's
// HandleOffer used when it was a single synchronous request handler:
// create PeerConnection → add tracks → (there: SetRemoteDescription from
// the client's offer; here: CreateOffer ourselves, since this core is the
// offering side per spec.md §4.3 "Offer generation").
func NewSession(viewerID string, pl *pipeline.Pipeline, sink OutboundSink, audioEnabled bool) (*Session, error) {
	pc, err := pl.API().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "broadcast-"+viewerID,
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("new video track: %w", err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	videoSSRC := randomSSRC()
	videoPktz := rtp.NewPacketizer(1200, 96, videoSSRC, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), 90000)

	s := &Session{
		ViewerID:   viewerID,
		pc:         pc,
		videoTrack: videoTrack,
		videoPktz:  videoPktz,
		videoSSRC:  videoSSRC,
		sink:       sink,
		pl:         pl,
		phase:      PhaseNew,
		stopVideo:  make(chan struct{}),
		stopAudio:  make(chan struct{}),
	}

	if audioEnabled {
		audioTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "broadcast-"+viewerID,
		)
		if err == nil {
			if _, err := pc.AddTrack(audioTrack); err == nil {
				s.audioTrack = audioTrack
				s.audioPktz = rtp.NewPacketizer(1200, 111, randomSSRC(), &codecs.OpusPayloader{}, rtp.NewRandomSequencer(), 48000)
			}
		}
	}

	s.videoBranch = pl.VideoSplitter.AddBranch(viewerID, 0)
	if s.audioTrack != nil {
		s.audioBranch = pl.AudioSplitter.AddBranch(viewerID, 0)
	}

	pc.OnICECandidate(s.onLocalICECandidate)
	pc.OnICEConnectionStateChange(s.onICEConnectionStateChange)
	pc.OnDataChannel(s.onDataChannel)

	go s.pumpVideo()
	if s.audioBranch != nil {
		go s.pumpAudio()
	}

	if err := s.createAndSendOffer(); err != nil {
		s.Detach()
		return nil, err
	}

	return s, nil
}

// randomSSRC mirrors the teacher's internal/webrtc.go use of
// math/rand.Uint32() to mint a packetizer SSRC.
func randomSSRC() uint32 {
	v := rand.Uint32()
	if v == 0 {
		v = 1
	}
	return v
}

// createAndSendOffer drives NEW → LOCAL_OFFER_PENDING → LOCAL_OFFER.
func (s *Session) createAndSendOffer() error {
	s.mu.Lock()
	s.phase = PhaseLocalOfferPending
	s.mu.Unlock()

	iceMu.Lock()
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		iceMu.Unlock()
		return s.fail(fmt.Errorf("create offer: %w", err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		iceMu.Unlock()
		return s.fail(fmt.Errorf("set local description: %w", err))
	}
	iceMu.Unlock()

	s.mu.Lock()
	s.phase = PhaseLocalOffer
	s.mu.Unlock()

	s.sink.SendOffer(s.ViewerID, offer.SDP)
	return nil
}

// HandleAnswer installs the remote answer, then drains the queued ICE
// candidates in order — applying a candidate before the remote description
// is set is the documented crash path spec.md §4.3 calls out.
func (s *Session) HandleAnswer(sdp string) error {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	iceMu.Lock()
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	iceMu.Unlock()
	if err != nil {
		return s.fail(fmt.Errorf("set remote description: %w", err))
	}

	s.mu.Lock()
	s.phase = PhaseRemoteAnswerSet
	s.remoteDescriptionSet = true
	queued := s.iceQueue
	s.iceQueue = nil
	s.mu.Unlock()

	for _, c := range queued {
		s.applyCandidate(c.candidate)
	}

	return nil
}

// HandleRemoteICECandidate applies candidate immediately if the remote
// description is already set; otherwise queues it, per spec.md §4.3.
// Missing sdpMid/sdpMLineIndex are defaulted per the same section.
func (s *Session) HandleRemoteICECandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) {
	var lineIdx uint16
	if sdpMLineIndex != nil {
		lineIdx = *sdpMLineIndex
	}
	mid := sdpMid
	if mid == nil {
		defaultMid := fmt.Sprintf("%d", lineIdx)
		mid = &defaultMid
	}

	init := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        mid,
		SDPMLineIndex: &lineIdx,
	}

	s.mu.Lock()
	ready := s.remoteDescriptionSet
	closed := s.cleanedUp
	if !ready && !closed {
		s.iceQueue = append(s.iceQueue, pendingCandidate{candidate: init})
	}
	s.mu.Unlock()

	if ready && !closed {
		s.applyCandidate(init)
	}
}

func (s *Session) applyCandidate(candidate webrtc.ICECandidateInit) {
	iceMu.Lock()
	err := s.pc.AddICECandidate(candidate)
	iceMu.Unlock()
	if err != nil {
		log.Printf("peer %s: add ICE candidate failed: %v", s.ViewerID, err)
	}
}

// onLocalICECandidate forwards locally gathered candidates; a nil candidate
// marks gathering complete and is not forwarded, per spec.md §4.3.
func (s *Session) onLocalICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	s.sink.SendICECandidate(s.ViewerID, init)
}

// onDataChannel wires the viewer's optional stats data channel, adapted from
// the teacher's internal/media.go Client.DataChannel + periodic FrameStats
// push: once the channel opens, push a JSON-encoded sent/dropped frame
// counter once a second until the session is detached. Additive and
// optional per spec.md §9 — a viewer that never offers a data channel gets
// no stats and the media contract is unaffected.
func (s *Session) onDataChannel(dc *webrtc.DataChannel) {
	s.dcMu.Lock()
	s.dataChannel = dc
	s.dcMu.Unlock()

	dc.OnOpen(func() {
		s.mu.Lock()
		if s.cleanedUp {
			s.mu.Unlock()
			return
		}
		s.stopStats = make(chan struct{})
		stop := s.stopStats
		s.mu.Unlock()

		go s.pushStats(dc, stop)
	})
}

func (s *Session) pushStats(dc *webrtc.DataChannel, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := frameStats{
				Type:          "stats",
				SentFrames:    atomic.LoadUint64(&s.sentFrames),
				DroppedFrames: atomic.LoadUint64(&s.droppedFrames),
			}
			payload, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			if err := dc.SendText(string(payload)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Session) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		s.mu.Lock()
		if s.phase != PhaseClosed {
			s.phase = PhaseConnected
		}
		s.mu.Unlock()
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
		s.Detach()
	}
}

func (s *Session) fail(err error) error {
	log.Printf("peer %s: fatal session error: %v", s.ViewerID, err)
	s.Detach()
	return err
}

// pumpVideo reads this peer's video branch and writes RTP packets to the
// track, mirroring the teacher's ClientManager.BroadcastNALUs loop but
// scoped to one peer's own branch channel instead of a shared client list.
func (s *Session) pumpVideo() {
	const samplesPerFrame = 90000 / 30
	for {
		select {
		case nalu, ok := <-s.videoBranch.Frames():
			if !ok {
				return
			}
			if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
				atomic.AddUint64(&s.droppedFrames, 1)
				continue
			}
			sent := true
			for _, pkt := range s.videoPktz.Packetize(nalu, samplesPerFrame) {
				if err := s.videoTrack.WriteRTP(pkt); err != nil {
					sent = false
				}
			}
			if sent {
				atomic.AddUint64(&s.sentFrames, 1)
			} else {
				atomic.AddUint64(&s.droppedFrames, 1)
			}
		case <-s.stopVideo:
			return
		}
	}
}

func (s *Session) pumpAudio() {
	const samplesPerFrame = 960 // 20ms @ 48kHz
	for {
		select {
		case frame, ok := <-s.audioBranch.Frames():
			if !ok {
				return
			}
			if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
				continue
			}
			for _, pkt := range s.audioPktz.Packetize(frame, samplesPerFrame) {
				_ = s.audioTrack.WriteRTP(pkt)
			}
		case <-s.stopAudio:
			return
		}
	}
}

// Detach runs the branch-detach procedure from spec.md §4.2, generalized to
// Go's channel/goroutine idiom: stop the per-branch pump goroutines, release
// both splitter request pads, close the WebRTC endpoint, and mark the
// cleaned-up latch. Idempotent: a concurrent or repeated call is a no-op,
// satisfying the "idempotent detach" testable property (spec.md §8).
func (s *Session) Detach() {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	s.cleanedUp = true
	s.phase = PhaseClosed
	stopStats := s.stopStats
	s.mu.Unlock()

	if stopStats != nil {
		close(stopStats)
	}

	close(s.stopVideo)
	if s.audioBranch != nil {
		close(s.stopAudio)
	}

	s.pl.VideoSplitter.RemoveBranch(s.ViewerID)
	if s.audioBranch != nil {
		s.pl.AudioSplitter.RemoveBranch(s.ViewerID)
	}

	_ = s.pc.Close()

	if s.sink != nil {
		s.sink.NotifyViewerLeft(s.ViewerID)
	}
}

// Phase reports the current SDP phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}
