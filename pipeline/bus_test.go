package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusDispatchesErrorToHook(t *testing.T) {
	b := newBus()
	go b.run()
	defer b.close()

	received := make(chan BusMessage, 1)
	b.onError = func(msg BusMessage) { received <- msg }

	want := errors.New("capture device missing")
	b.Post(BusMessage{Level: BusLevelError, Source: "video-capture", Err: want})

	select {
	case msg := <-received:
		assert.Equal(t, want, msg.Err)
	case <-time.After(time.Second):
		t.Fatal("onError hook was not invoked")
	}
}

func TestBusDropsWhenSaturatedWithoutBlocking(t *testing.T) {
	b := &Bus{messages: make(chan BusMessage), done: make(chan struct{})}
	defer close(b.done)

	done := make(chan struct{})
	go func() {
		b.Post(BusMessage{Level: BusLevelWarning, Source: "test"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked on a saturated bus instead of dropping")
	}
}
