package pipeline

import "log"

// BusLevel classifies a message posted to the pipeline's Bus, mirroring the
// GStreamer bus message severities named in spec.md §4.2.
type BusLevel int

const (
	BusLevelInfo BusLevel = iota
	BusLevelWarning
	BusLevelLatency
	BusLevelError
)

// BusMessage is one event posted by a capture/encode source or a splitter.
type BusMessage struct {
	Level   BusLevel
	Source  string
	Err     error
	Message string
}

// Bus is a buffered, single-consumer event channel. Every message is logged;
// error messages are also passed to the onError hook and latency messages to
// the onLatency hook, when those hooks are set. Pipeline sets neither hook,
// so an error message does not change the pipeline's running flag.
type Bus struct {
	messages chan BusMessage
	onError  func(BusMessage)
	onLatency func(BusMessage)
	done     chan struct{}
}

func newBus() *Bus {
	return &Bus{
		messages: make(chan BusMessage, 64),
		done:     make(chan struct{}),
	}
}

// Post enqueues a message, dropping it if the bus is saturated rather than
// blocking the capture/encode path that produced it.
func (b *Bus) Post(msg BusMessage) {
	select {
	case b.messages <- msg:
	default:
		log.Printf("pipeline bus saturated, dropping message from %s", msg.Source)
	}
}

// run consumes messages until Close is called.
func (b *Bus) run() {
	for {
		select {
		case msg := <-b.messages:
			b.dispatch(msg)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) dispatch(msg BusMessage) {
	switch msg.Level {
	case BusLevelError:
		log.Printf("pipeline ERROR from %s: %v", msg.Source, msg.Err)
		if b.onError != nil {
			b.onError(msg)
		}
	case BusLevelWarning:
		log.Printf("pipeline WARNING from %s: %s", msg.Source, msg.Message)
	case BusLevelLatency:
		log.Printf("pipeline latency update from %s: %s", msg.Source, msg.Message)
		if b.onLatency != nil {
			b.onLatency(msg)
		}
	default:
		log.Printf("pipeline debug from %s: %s", msg.Source, msg.Message)
	}
}

func (b *Bus) close() {
	close(b.done)
}
