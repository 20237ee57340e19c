// Package pipeline is the Go-native rendering of the GStreamer pipeline
// described in spec.md: capture sources feed splitters, splitters fan out to
// per-peer branches, and a bus carries error/warning/latency events from any
// stage back to the owning process. Adapted from the teacher's
// internal/camera.go + internal/webrtc.go, which wired a single capture
// source directly to a single client-broadcast loop; this package splits
// that into reusable, independently testable stages so a video splitter and
// an (new) audio splitter can each serve an arbitrary number of branches.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"webrtc-broadcast-core/config"
)

// Pipeline owns the capture sources, the splitters fed from them, and the
// shared event bus, for exactly one broadcast stream.
type Pipeline struct {
	conf *config.ServerConfig

	Video         *VideoCapture
	Audio         *AudioCapture
	VideoSplitter *Splitter
	AudioSplitter *Splitter
	Bus           *Bus

	api *webrtc.API

	mu      sync.Mutex
	running bool
}

// New builds a Pipeline for conf. It does not start capture; call Start.
func New(conf *config.ServerConfig) (*Pipeline, error) {
	api, err := buildAPI()
	if err != nil {
		return nil, fmt.Errorf("build webrtc API: %w", err)
	}

	bus := newBus()

	p := &Pipeline{
		conf:          conf,
		Video:         NewVideoCapture(0, 0, bus),
		Audio:         NewAudioCapture(0, bus),
		VideoSplitter: NewVideoSplitter("video", bus),
		AudioSplitter: NewSplitter("audio", bus),
		Bus:           bus,
		api:           api,
	}
	return p, nil
}

// API returns the shared pion webrtc.API (MediaEngine + interceptor
// registry) used to construct every peer connection, so all peers agree on
// codec registration (spec.md §4.3: "one MediaEngine per process").
func (p *Pipeline) API() *webrtc.API {
	return p.api
}

// Start launches the capture subprocesses and the splitter fan-out loops.
// Safe to call once; a second call returns an error.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	go p.Bus.run()

	if err := p.Video.Start(p.conf.CaptureCommand()); err != nil {
		return fmt.Errorf("start video capture: %w", err)
	}
	go p.VideoSplitter.run(p.Video.NALUChan)

	if p.conf.AudioDevice != "" {
		if err := p.Audio.Start(p.conf.AudioCaptureCommand()); err != nil {
			p.Bus.Post(BusMessage{Level: BusLevelWarning, Source: "pipeline", Message: "audio capture unavailable: " + err.Error()})
		} else {
			go p.AudioSplitter.run(p.Audio.OpusChan)
		}
	}

	p.running = true
	return nil
}

// Stop tears down capture subprocesses. Splitters drain their now-closed
// source channels and exit on their own; branches are detached by their
// owning peer sessions, not here (spec.md §8: splitter lifetime is
// independent of branch lifetime).
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	var firstErr error
	if err := p.Video.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.Audio.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.Bus.close()
	p.running = false
	return firstErr
}

// buildAPI configures a MediaEngine with H264 video and Opus audio and the
// default interceptor set, grounded on the teacher's internal/webrtc.go
// SetupMediaEngine (H264-only) generalized to also carry audio.
func buildAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "profile-level-id=42e01f;level-asymmetry-allowed=1;packetization-mode=1",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264 codec: %w", err)
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)), nil
}
