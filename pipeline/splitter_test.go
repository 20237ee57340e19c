package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterBranchIndependence(t *testing.T) {
	s := NewSplitter("video", nil)
	slow := s.AddBranch("slow", 2)
	fast := s.AddBranch("fast", 2)

	for i := 0; i < 10; i++ {
		s.Write([]byte{byte(i)})
	}

	select {
	case v := <-fast.Frames():
		assert.NotNil(t, v)
	default:
		t.Fatal("expected fast branch to have buffered frames")
	}

	_, ok := <-slow.Frames()
	assert.True(t, ok, "slow branch should still be open and have dropped-oldest semantics rather than blocking")
}

func TestSplitterRemoveBranchIdempotent(t *testing.T) {
	s := NewSplitter("video", nil)
	s.AddBranch("a", 4)

	require.NotPanics(t, func() {
		s.RemoveBranch("a")
		s.RemoveBranch("a")
		s.RemoveBranch("never-existed")
	})
	assert.Equal(t, 0, s.BranchCount())
}

func TestSplitterNullBranchLiveness(t *testing.T) {
	s := NewSplitter("video", nil)
	source := make(chan []byte, 1)
	go s.run(source)

	for i := 0; i < 5; i++ {
		source <- []byte{byte(i)}
	}
	close(source)

	// With zero branches attached, Write must never block the producer.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, s.BranchCount())
}

func TestVideoSplitterReplaysCachedKeyframeOnAttach(t *testing.T) {
	s := NewVideoSplitter("video", nil)

	sps := []byte{0, 0, 0, 1, 0x67, 0xAA}
	pps := []byte{0, 0, 0, 1, 0x68, 0xBB}
	idr := []byte{0, 0, 0, 1, 0x65, 0xCC}

	s.Write(sps)
	s.Write(pps)
	s.Write(idr)

	branch := s.AddBranch("late-joiner", 8)

	got := make([][]byte, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case f := <-branch.Frames():
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatalf("expected cached NALU %d, got none", i)
		}
	}

	assert.Equal(t, sps, got[0])
	assert.Equal(t, pps, got[1])
	assert.Equal(t, idr, got[2])
}
