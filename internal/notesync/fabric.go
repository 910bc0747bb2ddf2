package notesync

import (
	"context"
	"sync"

	"github.com/inkwell/inkwell/internal/record"
)

// Fabric is the broadcast boundary between replicas. Implementations
// deliver published records to every subscriber - including the
// publisher itself, which is exactly the echo the EchoSuppressor
// exists for.
type Fabric interface {
	// Publish hands a record to the fabric for fan-out.
	Publish(ctx context.Context, rec record.UpdateRecord) error

	// Subscribe registers a delivery callback and returns a function
	// that removes it. Callbacks must not block for long; they run on
	// the fabric's delivery path.
	Subscribe(fn func(record.UpdateRecord)) (unsubscribe func())
}

// Hub is an in-process Fabric: synchronous fan-out to every subscriber.
// It connects the coordinators of one process (multiple open windows)
// and stands in for the real transport in tests.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(record.UpdateRecord)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(record.UpdateRecord))}
}

// Publish delivers rec to every current subscriber, the publisher's own
// subscription included.
func (h *Hub) Publish(ctx context.Context, rec record.UpdateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	fns := make([]func(record.UpdateRecord), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(rec)
	}
	return nil
}

// Subscribe implements Fabric.
func (h *Hub) Subscribe(fn func(record.UpdateRecord)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
