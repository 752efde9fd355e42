package events

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brandforge/api/internal/plan"
)

// Notifier is the fire-and-forget event channel. Emit never blocks the
// request path and never returns an error to it.
type Notifier interface {
	Emit(eventType, tenantID string, payload map[string]any)
}

// Dispatcher buffers events on a channel and persists them from a single
// worker goroutine. When the buffer is full the event is dropped and
// counted; admission must not stall on a slow event sink.
type Dispatcher struct {
	store   plan.Store
	ch      chan *plan.Event
	done    chan struct{}
	dropped atomic.Int64
}

func NewDispatcher(store plan.Store, buffer int) *Dispatcher {
	d := &Dispatcher{
		store: store,
		ch:    make(chan *plan.Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Emit(eventType, tenantID string, payload map[string]any) {
	event := &plan.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		TenantID: tenantID,
		Payload:  payload,
	}

	select {
	case d.ch <- event:
	default:
		n := d.dropped.Add(1)
		log.Printf("events: buffer full, dropped %s for tenant %s (total dropped: %d)", eventType, tenantID, n)
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops the worker after draining buffered events.
func (d *Dispatcher) Close() {
	close(d.ch)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.store.RecordEvent(ctx, event); err != nil {
			log.Printf("events: failed to record %s for tenant %s: %v", event.Type, event.TenantID, err)
		}
		cancel()
	}
}
