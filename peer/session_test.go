package peer

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrtc-broadcast-core/config"
	"webrtc-broadcast-core/pipeline"
)

type fakeSink struct {
	offers  []string
	ices    []webrtc.ICECandidateInit
	lefts   []string
}

func (f *fakeSink) SendOffer(viewerID, sdp string) { f.offers = append(f.offers, viewerID) }
func (f *fakeSink) SendICECandidate(viewerID string, c webrtc.ICECandidateInit) {
	f.ices = append(f.ices, c)
}
func (f *fakeSink) NotifyViewerLeft(viewerID string) { f.lefts = append(f.lefts, viewerID) }

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	conf := &config.ServerConfig{CameraKind: config.CameraPiModern}
	pl, err := pipeline.New(conf)
	require.NoError(t, err)
	return pl
}

func TestNewSessionGeneratesOfferAndAttachesBranch(t *testing.T) {
	pl := newTestPipeline(t)
	sink := &fakeSink{}

	s, err := NewSession("viewer-1", pl, sink, false)
	require.NoError(t, err)
	defer s.Detach()

	assert.Equal(t, 1, pl.VideoSplitter.BranchCount())
	assert.Contains(t, sink.offers, "viewer-1")
	assert.Equal(t, PhaseLocalOffer, s.Phase())
}

func TestICECandidateQueuedBeforeRemoteDescription(t *testing.T) {
	pl := newTestPipeline(t)
	sink := &fakeSink{}

	s, err := NewSession("viewer-2", pl, sink, false)
	require.NoError(t, err)
	defer s.Detach()

	lineIndex := uint16(0)
	s.HandleRemoteICECandidate("candidate:1 1 UDP 1 127.0.0.1 9 typ host", nil, &lineIndex)

	s.mu.Lock()
	queued := len(s.iceQueue)
	ready := s.remoteDescriptionSet
	s.mu.Unlock()

	assert.False(t, ready, "remote description must not be set yet")
	assert.Equal(t, 1, queued, "candidate arriving before the answer must be queued, never applied early")
}

func TestDetachIsIdempotent(t *testing.T) {
	pl := newTestPipeline(t)
	sink := &fakeSink{}

	s, err := NewSession("viewer-3", pl, sink, false)
	require.NoError(t, err)

	s.Detach()
	s.Detach()
	s.Detach()

	assert.Equal(t, PhaseClosed, s.Phase())
	assert.Equal(t, 0, pl.VideoSplitter.BranchCount())
	assert.Equal(t, []string{"viewer-3"}, sink.lefts, "NotifyViewerLeft must fire exactly once despite repeated Detach calls")
}
