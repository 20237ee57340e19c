// Audio capture and Opus frame extraction.
//
// Adapted from the teacher's internal/recorder.go RecorderManager: that file
// piped H264 into ffmpeg's stdin and buffered writes with a bufio.Writer to
// mux an MP4 file. Recording to disk is explicitly out of scope here
// (spec.md Non-goals), so the MP4-muxing half is dropped; what is kept and
// repurposed is the "spawn an ffmpeg subprocess, pipe media through it"
// mechanism, now used to encode raw PCM from the audio device into Opus and
// read the encoded frames back out over a pipe instead of a file.
package pipeline

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// AudioCapture manages the audio capture + Opus encode subprocess chain and
// exposes decoded Ogg/Opus page payloads on OpusChan for the audio splitter.
type AudioCapture struct {
	OpusChan chan []byte
	cmd      *exec.Cmd
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	bus      *Bus
}

// NewAudioCapture creates an AudioCapture with the given channel buffer.
func NewAudioCapture(channelBuffer int, bus *Bus) *AudioCapture {
	if channelBuffer <= 0 {
		channelBuffer = 2000
	}
	return &AudioCapture{
		OpusChan: make(chan []byte, channelBuffer),
		bus:      bus,
	}
}

// Start launches the capture command (raw PCM producer, e.g.
// config.ServerConfig.AudioCaptureCommand) piped into an Opus encoder and
// begins streaming decoded Ogg pages.
func (ac *AudioCapture) Start(captureCmd string) error {
	ac.mu.Lock()
	if ac.running {
		ac.mu.Unlock()
		return fmt.Errorf("audio capture already running")
	}
	ac.running = true
	ac.mu.Unlock()

	fullCmd := fmt.Sprintf("%s | ffmpeg -f s16le -ar 48000 -ac 2 -i pipe:0 -c:a libopus -f ogg -page_duration 20000 pipe:1", captureCmd)
	ac.cmd = exec.Command("sh", "-c", fullCmd)
	ac.cmd.Stderr = os.Stderr

	stdout, err := ac.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := ac.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	log.Println("audio capture process started")

	ac.wg.Add(1)
	go ac.readStream(stdout)

	return nil
}

func (ac *AudioCapture) readStream(reader io.Reader) {
	defer ac.wg.Done()

	ogg, _, err := oggreader.NewWith(reader)
	if err != nil {
		if ac.bus != nil {
			ac.bus.Post(BusMessage{Level: BusLevelError, Source: "audio-capture", Err: err})
		}
		return
	}

	var totalPages, droppedPages uint64

	for {
		payload, _, err := ogg.ParseNextPage()
		if err != nil {
			if err != io.EOF && ac.bus != nil {
				ac.bus.Post(BusMessage{Level: BusLevelError, Source: "audio-capture", Err: err})
			}
			break
		}

		totalPages++

		select {
		case ac.OpusChan <- payload:
		default:
			droppedPages++
			select {
			case <-ac.OpusChan:
				ac.OpusChan <- payload
			default:
			}
		}
	}

	log.Printf("audio capture stats - total pages: %d, dropped: %d", totalPages, droppedPages)
}

// Stop gracefully stops the capture process and waits for the reader
// goroutine to finish.
func (ac *AudioCapture) Stop() error {
	ac.mu.Lock()
	if !ac.running {
		ac.mu.Unlock()
		return nil
	}
	ac.mu.Unlock()

	if ac.cmd == nil || ac.cmd.Process == nil {
		return nil
	}

	log.Println("stopping audio capture process...")

	if err := ac.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = ac.cmd.Process.Kill()
	}

	ac.wg.Wait()
	close(ac.OpusChan)

	ac.mu.Lock()
	ac.running = false
	ac.mu.Unlock()

	log.Println("audio capture stopped")
	return nil
}
