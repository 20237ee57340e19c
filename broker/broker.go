package broker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingOffer is an SDP offer buffered because its destination viewer had
// not yet sent viewer-ready (spec.md §3 PendingOffer, §4.1 "offer").
type pendingOffer struct {
	sdp       string
	createdAt time.Time
}

// stream tracks one streamId's broadcaster and the set of attached viewers.
type stream struct {
	streamID    string
	broadcaster *client

	mu      sync.Mutex
	viewers map[string]*client
}

// Broker routes signaling messages between exactly one broadcaster and any
// number of viewers per streamId, per spec.md §4.1. All state is in-memory;
// durability is explicitly not a goal.
type Broker struct {
	mu            sync.Mutex
	streams       map[string]*stream
	viewersByID   map[string]*client
	pendingOffers map[string]pendingOffer

	done chan struct{}
}

// New creates a Broker and starts its background pending-offer sweep.
func New() *Broker {
	b := &Broker{
		streams:       make(map[string]*stream),
		viewersByID:   make(map[string]*client),
		pendingOffers: make(map[string]pendingOffer),
		done:          make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Close stops the background sweep. Existing connections are not touched;
// callers close those via normal socket teardown.
func (b *Broker) Close() {
	close(b.done)
}

func (b *Broker) sweepLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweepPendingOffers()
		case <-b.done:
			return
		}
	}
}

func (b *Broker) sweepPendingOffers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for viewerID, offer := range b.pendingOffers {
		if now.Sub(offer.createdAt) > pendingOfferTTL {
			delete(b.pendingOffers, viewerID)
		}
	}
}

// Status reports the broker's current view for the /status HTTP endpoint.
type Status struct {
	Broadcasters    []string
	ViewerCount     int
	ConnectionCount int
}

func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{}
	for id, s := range b.streams {
		if s.broadcaster != nil {
			st.Broadcasters = append(st.Broadcasters, id)
		}
	}
	st.ViewerCount = len(b.viewersByID)
	st.ConnectionCount = st.ViewerCount + len(st.Broadcasters)
	return st
}

// dispatch routes one decoded inbound message from c. It is the broker's
// entire message-set implementation from spec.md §4.1.
func (b *Broker) dispatch(c *client, msg inboundMessage) {
	switch msg.Type {
	case "register":
		b.handleRegister(c, msg)
	case "join":
		b.handleJoin(c, msg)
	case "viewer-ready":
		b.handleViewerReady(c)
	case "offer":
		b.handleOffer(c, msg)
	case "answer":
		b.handleAnswer(c, msg)
	case "ice-candidate":
		b.handleICECandidate(c, msg)
	default:
		log.Printf("broker: unknown message type %q, dropping", msg.Type)
		b.sendError(c, fmt.Sprintf("unknown message type %q", msg.Type))
		if c.recordViolation() {
			log.Printf("broker: closing socket after repeated unknown message types")
			c.close()
		}
	}
}

// handleRegister implements "new register kicks old" (spec.md §9
// Single-broadcaster-per-stream): a prior broadcaster socket for the same
// streamId is closed before the new registration takes effect.
func (b *Broker) handleRegister(c *client, msg inboundMessage) {
	if msg.Role != "broadcaster" || msg.StreamID == "" {
		b.sendError(c, "register requires role=broadcaster and streamId")
		return
	}

	b.mu.Lock()
	s, ok := b.streams[msg.StreamID]
	if !ok {
		s = &stream{streamID: msg.StreamID, viewers: make(map[string]*client)}
		b.streams[msg.StreamID] = s
	}
	prior := s.broadcaster
	s.broadcaster = c
	b.mu.Unlock()

	if prior != nil && prior != c {
		prior.close()
	}

	c.mu.Lock()
	c.role = roleBroadcaster
	c.streamID = msg.StreamID
	c.mu.Unlock()

	c.enqueue(marshal(registeredMsg{Type: "registered", StreamID: msg.StreamID}))
}

// handleJoin mints a viewerId, binds it to c, and (per spec.md §4.1) tells
// the viewer before telling the broadcaster, with a 100ms gap so the viewer
// has a chance to send viewer-ready before an offer arrives.
func (b *Broker) handleJoin(c *client, msg inboundMessage) {
	if msg.StreamID == "" {
		b.sendError(c, "join requires streamId")
		return
	}

	c.mu.Lock()
	priorViewerID := c.viewerID
	c.mu.Unlock()
	if priorViewerID != "" {
		b.removeViewer(priorViewerID)
	}

	b.mu.Lock()
	s, ok := b.streams[msg.StreamID]
	if !ok || s.broadcaster == nil {
		b.mu.Unlock()
		b.sendError(c, fmt.Sprintf("Stream not found: %s", msg.StreamID))
		return
	}
	viewerID := "viewer-" + uuid.NewString()
	b.viewersByID[viewerID] = c
	s.mu.Lock()
	s.viewers[viewerID] = c
	s.mu.Unlock()
	broadcaster := s.broadcaster
	b.mu.Unlock()

	c.mu.Lock()
	c.role = roleViewer
	c.streamID = msg.StreamID
	c.viewerID = viewerID
	c.mu.Unlock()

	c.enqueue(marshal(joinedMsg{Type: "joined", ViewerID: viewerID, StreamID: msg.StreamID}))

	go func() {
		time.Sleep(100 * time.Millisecond)
		broadcaster.enqueue(marshal(viewerJoinedMsg{Type: "viewer-joined", ViewerID: viewerID}))
	}()
}

func (b *Broker) handleViewerReady(c *client) {
	c.mu.Lock()
	viewerID := c.viewerID
	c.ready = true
	c.mu.Unlock()
	if viewerID == "" {
		return
	}

	b.mu.Lock()
	offer, ok := b.pendingOffers[viewerID]
	if ok {
		delete(b.pendingOffers, viewerID)
	}
	streamID := c.streamID
	s := b.streams[streamID]
	b.mu.Unlock()

	if ok && s != nil {
		c.enqueue(marshal(offerMsg{Type: "offer", From: streamID, SDP: offer.sdp}))
	}
}

// handleOffer forwards from broadcaster to viewer, buffering as a
// PendingOffer (single slot, latest wins) if the viewer isn't ready yet.
func (b *Broker) handleOffer(c *client, msg inboundMessage) {
	c.mu.Lock()
	isBroadcaster := c.role == roleBroadcaster
	streamID := c.streamID
	c.mu.Unlock()
	if !isBroadcaster || msg.To == "" {
		b.sendError(c, "offer requires broadcaster role and to=viewerId")
		return
	}

	b.mu.Lock()
	viewer, ok := b.viewersByID[msg.To]
	b.mu.Unlock()
	if !ok {
		b.mu.Lock()
		b.pendingOffers[msg.To] = pendingOffer{sdp: msg.SDP, createdAt: time.Now()}
		b.mu.Unlock()
		return
	}

	viewer.mu.Lock()
	ready := viewer.ready
	viewer.mu.Unlock()
	if !ready {
		b.mu.Lock()
		b.pendingOffers[msg.To] = pendingOffer{sdp: msg.SDP, createdAt: time.Now()}
		b.mu.Unlock()
		return
	}

	viewer.enqueue(marshal(offerMsg{Type: "offer", From: streamID, SDP: msg.SDP}))
}

// handleAnswer forwards from viewer to its stream's broadcaster.
func (b *Broker) handleAnswer(c *client, msg inboundMessage) {
	c.mu.Lock()
	viewerID := c.viewerID
	streamID := c.streamID
	isViewer := c.role == roleViewer
	c.mu.Unlock()
	if !isViewer {
		b.sendError(c, "answer requires viewer role")
		return
	}

	b.mu.Lock()
	s, ok := b.streams[streamID]
	b.mu.Unlock()
	if !ok || s.broadcaster == nil {
		return
	}
	s.broadcaster.enqueue(marshal(answerMsg{Type: "answer", From: viewerID, SDP: msg.SDP}))
}

// handleICECandidate forwards verbatim, with the direction chosen by the
// sender's role: a broadcaster's candidate goes to the viewer named by `to`
// (a viewerId); a viewer's candidate goes to its own stream's broadcaster,
// and its `to` field is not consulted.
func (b *Broker) handleICECandidate(c *client, msg inboundMessage) {
	c.mu.Lock()
	fromStream := c.streamID
	fromViewer := c.viewerID
	isBroadcaster := c.role == roleBroadcaster
	c.mu.Unlock()

	out := iceCandidateMsg{
		Type:          "ice-candidate",
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}

	if isBroadcaster {
		b.mu.Lock()
		target, ok := b.viewersByID[msg.To]
		b.mu.Unlock()
		if !ok {
			return
		}
		out.From = fromStream
		target.enqueue(marshal(out))
		return
	}

	b.mu.Lock()
	s, ok := b.streams[fromStream]
	b.mu.Unlock()
	if !ok || s.broadcaster == nil {
		return
	}
	out.From = fromViewer
	s.broadcaster.enqueue(marshal(out))
}

func (b *Broker) sendError(c *client, message string) {
	c.enqueue(marshal(errorMsg{Type: "error", Message: message}))
}

// removeViewer detaches viewerID from its stream and notifies the
// broadcaster with viewer-left, idempotent if the viewer is already gone.
func (b *Broker) removeViewer(viewerID string) {
	b.mu.Lock()
	c, ok := b.viewersByID[viewerID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.viewersByID, viewerID)
	delete(b.pendingOffers, viewerID)
	s, hasStream := b.streams[c.streamID]
	b.mu.Unlock()

	if !hasStream {
		return
	}
	s.mu.Lock()
	delete(s.viewers, viewerID)
	broadcaster := s.broadcaster
	s.mu.Unlock()

	if broadcaster != nil {
		broadcaster.enqueue(marshal(viewerLeftMsg{Type: "viewer-left", ViewerID: viewerID}))
	}
}

// removeBroadcaster tears down streamID's registration and tells every
// attached viewer broadcaster-left.
func (b *Broker) removeBroadcaster(c *client) {
	b.mu.Lock()
	s, ok := b.streams[c.streamID]
	if ok && s.broadcaster == c {
		delete(b.streams, c.streamID)
	} else {
		ok = false
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	viewers := make([]*client, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	for _, v := range viewers {
		v.enqueue(marshal(broadcasterLeftMsg{Type: "broadcaster-left"}))
		b.removeViewer(v.viewerID)
	}
}

// onDisconnect runs the socket-close handling from spec.md §4.1's per-socket
// state machine: UNKNOWN/BROADCASTER/VIEWER → CLOSED is terminal.
func (b *Broker) onDisconnect(c *client) {
	c.mu.Lock()
	r := c.role
	viewerID := c.viewerID
	c.mu.Unlock()

	switch r {
	case roleBroadcaster:
		b.removeBroadcaster(c)
	case roleViewer:
		if viewerID != "" {
			b.removeViewer(viewerID)
		}
	}
}
