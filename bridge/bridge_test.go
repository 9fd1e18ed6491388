package bridge

import (
	"sync"
	"testing"
	"time"
)

type recordedMessage struct {
	channel string
	payload []byte
}

type recorder struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (r *recorder) Enqueue(channel string, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, recordedMessage{channel: channel, payload: payload})
	return true
}

func (r *recorder) take() []recordedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.messages
	r.messages = nil
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
