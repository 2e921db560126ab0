// Package events is a synchronous per-workflow publish/subscribe bus.
package events

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/model"
)

// Listener receives published events. Listeners run on the publisher's
// goroutine and must not block.
type Listener func(evt model.Event)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for listener failures.
func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPanicHook registers a callback invoked after a listener panic has
// been recovered, typically to count it.
func WithPanicHook(fn func(evt model.Event)) BusOption {
	return func(b *Bus) { b.onPanic = fn }
}

type subscription struct {
	seq      uint64
	listener Listener
}

// Bus delivers events to the listeners of one workflow and to global
// listeners. A panicking listener is recovered and logged; the remaining
// listeners still run.
type Bus struct {
	mu      sync.RWMutex
	seq     uint64
	byID    map[string]map[uint64]Listener
	global  map[uint64]Listener
	logger  *zap.Logger
	onPanic func(model.Event)
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		byID:   make(map[string]map[uint64]Listener),
		global: make(map[uint64]Listener),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers l for events of workflowID. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(workflowID string, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	id := b.seq
	subs, ok := b.byID[workflowID]
	if !ok {
		subs = make(map[uint64]Listener)
		b.byID[workflowID] = subs
	}
	subs[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.byID[workflowID], id)
			if len(b.byID[workflowID]) == 0 {
				delete(b.byID, workflowID)
			}
		})
	}
}

// SubscribeAll registers l for events of every workflow.
func (b *Bus) SubscribeAll(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.global[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.global, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers evt to the workflow's listeners, then to global
// listeners, each in subscription order.
func (b *Bus) Publish(evt model.Event) {
	for _, s := range b.snapshot(evt.WorkflowID) {
		b.invoke(s.listener, evt)
	}
}

// ListenerCount returns the number of listeners subscribed to workflowID.
func (b *Bus) ListenerCount(workflowID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID[workflowID])
}

// snapshot copies the listener set so listeners may (un)subscribe while
// being invoked.
func (b *Bus) snapshot(workflowID string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	local := make([]subscription, 0, len(b.byID[workflowID]))
	for seq, l := range b.byID[workflowID] {
		local = append(local, subscription{seq: seq, listener: l})
	}
	sort.Slice(local, func(i, j int) bool { return local[i].seq < local[j].seq })

	global := make([]subscription, 0, len(b.global))
	for seq, l := range b.global {
		global = append(global, subscription{seq: seq, listener: l})
	}
	sort.Slice(global, func(i, j int) bool { return global[i].seq < global[j].seq })

	return append(local, global...)
}

func (b *Bus) invoke(l Listener, evt model.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("workflow_id", evt.WorkflowID),
				zap.String("panic", fmt.Sprint(rec)),
			)
			if b.onPanic != nil {
				b.onPanic(evt)
			}
		}
	}()
	l(evt)
}
