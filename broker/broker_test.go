package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *client {
	return &client{send: make(chan []byte, 16)}
}

func drain(t *testing.T, c *client) map[string]struct{} {
	t.Helper()
	types := make(map[string]struct{})
	for {
		select {
		case payload := <-c.send:
			var m inboundMessage
			_ = json.Unmarshal(payload, &m)
			types[m.Type] = struct{}{}
		default:
			return types
		}
	}
}

func TestRegisterReplacesPriorBroadcaster(t *testing.T) {
	b := New()
	defer b.Close()

	oldBroadcaster := newTestClient()
	newBroadcaster := newTestClient()

	b.handleRegister(oldBroadcaster, inboundMessage{Type: "register", Role: "broadcaster", StreamID: "s1"})
	b.handleRegister(newBroadcaster, inboundMessage{Type: "register", Role: "broadcaster", StreamID: "s1"})

	b.mu.Lock()
	current := b.streams["s1"].broadcaster
	b.mu.Unlock()

	assert.Same(t, newBroadcaster, current, "the newest register must own the streamId")

	oldBroadcaster.mu.Lock()
	closed := oldBroadcaster.closed
	oldBroadcaster.mu.Unlock()
	assert.True(t, closed, "the prior broadcaster socket must be closed on replacement")
}

func TestRepeatedUnknownMessageTypeClosesSocket(t *testing.T) {
	b := New()
	defer b.Close()

	c := newTestClient()
	for i := 0; i < maxViolations-1; i++ {
		b.dispatch(c, inboundMessage{Type: "bogus"})
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		assert.False(t, closed, "socket must not close before maxViolations is reached")
	}

	b.dispatch(c, inboundMessage{Type: "bogus"})

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	assert.True(t, closed, "socket must close once unknown-type messages reach maxViolations")
}

func TestJoinUnknownStreamReturnsError(t *testing.T) {
	b := New()
	defer b.Close()

	viewer := newTestClient()
	b.handleJoin(viewer, inboundMessage{Type: "join", StreamID: "missing"})

	select {
	case payload := <-viewer.send:
		var msg errorMsg
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Contains(t, msg.Message, "missing")
	default:
		t.Fatal("expected an error message")
	}
}

func TestOfferBufferedUntilViewerReady(t *testing.T) {
	b := New()
	defer b.Close()

	broadcaster := newTestClient()
	b.handleRegister(broadcaster, inboundMessage{Type: "register", Role: "broadcaster", StreamID: "s1"})
	drain(t, broadcaster)

	viewer := newTestClient()
	b.handleJoin(viewer, inboundMessage{Type: "join", StreamID: "s1"})
	drain(t, viewer)

	b.mu.Lock()
	viewerID := viewer.viewerID
	b.mu.Unlock()
	require.NotEmpty(t, viewerID)

	b.handleOffer(broadcaster, inboundMessage{Type: "offer", To: viewerID, SDP: "v=0..."})

	select {
	case <-viewer.send:
		t.Fatal("offer must not be forwarded before viewer-ready")
	default:
	}

	b.mu.Lock()
	_, pending := b.pendingOffers[viewerID]
	b.mu.Unlock()
	assert.True(t, pending)

	b.handleViewerReady(viewer)

	select {
	case payload := <-viewer.send:
		var msg offerMsg
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "v=0...", msg.SDP, "forwarded SDP must equal the original byte-for-byte")
	default:
		t.Fatal("expected the buffered offer to be delivered on viewer-ready")
	}

	b.mu.Lock()
	_, stillPending := b.pendingOffers[viewerID]
	b.mu.Unlock()
	assert.False(t, stillPending, "offer must be removed once delivered")
}

func TestPendingOfferExpiresAfterTTL(t *testing.T) {
	b := New()
	defer b.Close()

	b.mu.Lock()
	b.pendingOffers["viewer-x"] = pendingOffer{sdp: "v=0...", createdAt: time.Now().Add(-2 * pendingOfferTTL)}
	b.mu.Unlock()

	b.sweepPendingOffers()

	b.mu.Lock()
	_, ok := b.pendingOffers["viewer-x"]
	b.mu.Unlock()
	assert.False(t, ok, "expired pending offers must be swept")
}

func TestBroadcasterLeftNotifiesAllViewers(t *testing.T) {
	b := New()
	defer b.Close()

	broadcaster := newTestClient()
	b.handleRegister(broadcaster, inboundMessage{Type: "register", Role: "broadcaster", StreamID: "s1"})
	drain(t, broadcaster)

	v1 := newTestClient()
	v2 := newTestClient()
	b.handleJoin(v1, inboundMessage{Type: "join", StreamID: "s1"})
	b.handleJoin(v2, inboundMessage{Type: "join", StreamID: "s1"})
	drain(t, v1)
	drain(t, v2)

	b.removeBroadcaster(broadcaster)

	for _, v := range []*client{v1, v2} {
		select {
		case payload := <-v.send:
			var msg broadcasterLeftMsg
			require.NoError(t, json.Unmarshal(payload, &msg))
			assert.Equal(t, "broadcaster-left", msg.Type)
		default:
			t.Fatal("expected broadcaster-left on every attached viewer")
		}
	}

	b.mu.Lock()
	_, exists := b.streams["s1"]
	b.mu.Unlock()
	assert.False(t, exists, "stream registration must be removed once its broadcaster leaves")
}
