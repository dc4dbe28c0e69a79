/*
Package event models the automation collaborator interface.

PURPOSE:
  The engine notifies external systems (SMS automation, follow-up
  scheduling) when state changes commit. The core knows nothing about
  message content or channels - it emits named events with a payload and
  moves on.

DELIVERY GUARANTEES:
  None. Emission is fire-and-forget and must never sit on the critical path
  of a credit or status transaction. A failed or dropped emission is logged,
  never propagated as a booking failure.

EVENT NAMES:
  credit_changed     {client_id, delta, new_balance, reason}
  session_booked     {client_id, session_id, trainer_id, starts_at}
  session_cancelled  {client_id, session_id, cancelled_by, refunded}
  session_completed  {client_id, session_id, trainer_id}

IMPLEMENTATIONS:
  Async    buffered, non-blocking handoff to a sink (production default)
  Log      writes events to the process log
  Recorder captures events for test assertions
  Nop      discards everything
*/
package event

import (
	"log"
	"sync"
	"time"
)

// Event names emitted by the engine.
const (
	CreditChanged    = "credit_changed"
	SessionBooked    = "session_booked"
	SessionCancelled = "session_cancelled"
	SessionCompleted = "session_completed"
)

// Emitter is the collaborator interface injected into the engine.
type Emitter interface {
	Emit(name string, payload map[string]any)
}

// Event is a captured emission (used by Recorder and Async).
type Event struct {
	Name    string
	Payload map[string]any
	At      time.Time
}

// =============================================================================
// NOP EMITTER
// =============================================================================

type Nop struct{}

func (Nop) Emit(string, map[string]any) {}

// =============================================================================
// LOG EMITTER
// =============================================================================

// Log writes every event to the standard logger.
type Log struct{}

func (Log) Emit(name string, payload map[string]any) {
	log.Printf("[event] %s %v", name, payload)
}

// =============================================================================
// ASYNC EMITTER - Buffered handoff, never blocks the caller
// =============================================================================

// Async decouples emission from delivery. Events are handed to a buffered
// channel; a single worker drains it into the sink. When the buffer is full
// the event is dropped with a logged warning - the transaction that produced
// it has already committed and must not wait.
type Async struct {
	sink Emitter

	ch   chan Event
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery worker. buffer <= 0 defaults to 64.
func NewAsync(sink Emitter, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Emit(name string, payload map[string]any) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		// Shutdown already began; dropping keeps Emit safe for stragglers.
		log.Printf("[event] WARN emitter closed, dropping %s", name)
		return
	}

	ev := Event{Name: name, Payload: payload, At: time.Now()}
	select {
	case a.ch <- ev:
	default:
		log.Printf("[event] WARN buffer full, dropping %s", name)
	}
}

// Close stops accepting events and drains the buffer. Emit calls arriving
// after Close are dropped, never a panic.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		close(a.ch)
		<-a.done
	})
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		a.deliver(ev)
	}
}

func (a *Async) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[event] WARN sink panicked delivering %s: %v", ev.Name, r)
		}
	}()
	a.sink.Emit(ev.Name, ev.Payload)
}

// =============================================================================
// RECORDER - For tests
// =============================================================================

// Recorder captures events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(name string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload, At: time.Now()})
}

// Events returns a copy of everything captured so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// CountOf returns how many events with the given name were captured.
func (r *Recorder) CountOf(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// LastOf returns the most recent event with the given name, or nil.
func (r *Recorder) LastOf(name string) *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			ev := r.events[i]
			return &ev
		}
	}
	return nil
}
