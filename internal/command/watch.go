package command

import (
	"sync"

	"github.com/google/uuid"

	"github.com/obdesk/obdesk/internal/bus"
)

// Watcher streams bus events to UI subscribers as uuid-stamped envelopes.
type Watcher struct {
	bus *bus.Bus
}

// NewWatcher creates the event watcher.
func NewWatcher(b *bus.Bus) *Watcher {
	return &Watcher{bus: b}
}

// Watch subscribes to all events under a namespace prefix. The returned
// cancel function must be called to release the subscription; the envelope
// channel closes afterwards.
func (w *Watcher) Watch(namespace string, bufSize int) (<-chan Envelope, func()) {
	if bufSize <= 0 {
		bufSize = 64
	}
	events, unsubscribe := w.bus.Subscribe(namespace, bufSize)

	out := make(chan Envelope, bufSize)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-events:
				env := Envelope{
					ID:        uuid.NewString(),
					Kind:      evt.Kind,
					Timestamp: evt.Timestamp,
					Payload:   evt.Payload,
				}
				select {
				case out <- env:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
	return out, cancel
}
