package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"webrtc-broadcast-core/broker"
	"webrtc-broadcast-core/peer"
	"webrtc-broadcast-core/pipeline"
)

// signalingClient is the broadcaster-side half of the wire protocol in
// spec.md §6: it dials the broker as the single "broadcaster" role for
// streamID and drives one peer.Session per viewer it is told about.
// Grounded on the teacher's gorilla/websocket usage, here as a Dial client
// instead of an Upgrade server since the broker may run as a separate
// process from the capture/encode core.
type signalingClient struct {
	conn     *websocket.Conn
	streamID string
	pl       *pipeline.Pipeline
	audio    bool

	mu       sync.Mutex
	sessions map[string]*peer.Session
}

func dialSignaling(signalingURL, streamID string, pl *pipeline.Pipeline, audioEnabled bool) (*signalingClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(signalingURL, nil)
	if err != nil {
		return nil, err
	}

	sc := &signalingClient{
		conn:     conn,
		streamID: streamID,
		pl:       pl,
		audio:    audioEnabled,
		sessions: make(map[string]*peer.Session),
	}

	register := broker.Encode(broker.WireMessage{Type: "register", Role: "broadcaster", StreamID: streamID})
	if err := conn.WriteMessage(websocket.TextMessage, register); err != nil {
		conn.Close()
		return nil, err
	}

	return sc, nil
}

// run reads broker messages until the connection closes; run in its own
// goroutine by main.
func (sc *signalingClient) run() {
	for {
		_, payload, err := sc.conn.ReadMessage()
		if err != nil {
			log.Printf("signaling: connection closed: %v", err)
			sc.closeAllSessions()
			return
		}

		var msg broker.WireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("signaling: malformed message: %v", err)
			continue
		}

		sc.handle(msg)
	}
}

func (sc *signalingClient) handle(msg broker.WireMessage) {
	switch msg.Type {
	case "registered":
		log.Printf("signaling: registered as broadcaster for stream %s", msg.StreamID)
	case "viewer-joined":
		sc.onViewerJoined(msg.ViewerID)
	case "viewer-left":
		sc.onViewerLeft(msg.ViewerID)
	case "answer":
		sc.onAnswer(msg.From, msg.SDP)
	case "ice-candidate":
		sc.onICECandidate(msg.From, msg.Candidate, msg.SDPMid, msg.SDPMLineIndex)
	case "error":
		log.Printf("signaling: broker error: %s", msg.Message)
	default:
		log.Printf("signaling: unhandled message type %q", msg.Type)
	}
}

func (sc *signalingClient) onViewerJoined(viewerID string) {
	session, err := peer.NewSession(viewerID, sc.pl, sc, sc.audio)
	if err != nil {
		log.Printf("signaling: failed to create session for %s: %v", viewerID, err)
		return
	}

	sc.mu.Lock()
	sc.sessions[viewerID] = session
	sc.mu.Unlock()
}

func (sc *signalingClient) onViewerLeft(viewerID string) {
	sc.mu.Lock()
	session, ok := sc.sessions[viewerID]
	delete(sc.sessions, viewerID)
	sc.mu.Unlock()
	if ok {
		session.Detach()
	}
}

func (sc *signalingClient) onAnswer(viewerID, sdp string) {
	session := sc.lookup(viewerID)
	if session == nil {
		return
	}
	if err := session.HandleAnswer(sdp); err != nil {
		log.Printf("signaling: answer handling failed for %s: %v", viewerID, err)
	}
}

func (sc *signalingClient) onICECandidate(viewerID, candidate string, sdpMid *string, sdpMLineIndex *uint16) {
	session := sc.lookup(viewerID)
	if session == nil {
		return
	}
	session.HandleRemoteICECandidate(candidate, sdpMid, sdpMLineIndex)
}

func (sc *signalingClient) lookup(viewerID string) *peer.Session {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sessions[viewerID]
}

func (sc *signalingClient) closeAllSessions() {
	sc.mu.Lock()
	sessions := make([]*peer.Session, 0, len(sc.sessions))
	for _, s := range sc.sessions {
		sessions = append(sessions, s)
	}
	sc.sessions = make(map[string]*peer.Session)
	sc.mu.Unlock()

	for _, s := range sessions {
		s.Detach()
	}
}

func (sc *signalingClient) write(msg broker.WireMessage) {
	_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := sc.conn.WriteMessage(websocket.TextMessage, broker.Encode(msg)); err != nil {
		log.Printf("signaling: write failed: %v", err)
	}
}

// SendOffer implements peer.OutboundSink.
func (sc *signalingClient) SendOffer(viewerID, sdp string) {
	sc.write(broker.WireMessage{Type: "offer", To: viewerID, SDP: sdp})
}

// SendICECandidate implements peer.OutboundSink.
func (sc *signalingClient) SendICECandidate(viewerID string, candidate webrtc.ICECandidateInit) {
	c, mid, lineIndex := broker.ICECandidateFromJSON(candidate)
	sc.write(broker.WireMessage{
		Type:          "ice-candidate",
		To:            viewerID,
		Candidate:     c,
		SDPMid:        mid,
		SDPMLineIndex: lineIndex,
	})
}

// NotifyViewerLeft implements peer.OutboundSink; the broker already knows
// about viewer departures via its own socket-close handling, so this is a
// local bookkeeping hook rather than a further wire message.
func (sc *signalingClient) NotifyViewerLeft(viewerID string) {
	sc.mu.Lock()
	delete(sc.sessions, viewerID)
	sc.mu.Unlock()
}
