package core

import "sync"

// DebugWriter is a function type for writing debug lines
type DebugWriter func(string)

// Event captures a protocol event for post-mortem analysis
type Event struct {
	Type    uint8  // Event type code
	ShortID uint8  // Short id involved, 0 if none
	Clock   uint32 // Node clock at event, ms
	Value1  uint32 // Context-dependent value
	Value2  uint32 // Context-dependent value
}

// Event type codes
const (
	EvtDetectStart   = 1  // session latched (v1 = stage-1 fragment)
	EvtDetectStage   = 2  // stage echoed (v1 = stage, v2 = fragment)
	EvtGrant         = 3  // stage-4 grant sent (v1 = uid word 2)
	EvtRegistered    = 4  // ACK accepted, row written (v1 = type, v2 = version)
	EvtAllocFail     = 5  // table full (v1 = uid word 0)
	EvtSessionExpire = 6  // session abandoned (v1 = stage)
	EvtBusy          = 7  // competing DETECT_1 ignored (v1 = fragment)
	EvtRunBroadcast  = 8  // RUN broadcast sent
	EvtTxFail        = 9  // transmit failed (v1 = can id)
	EvtTimeout       = 10 // panel gave up waiting for an echo (v1 = stage)
	EvtFallback      = 11 // panel saw a foreign echo (v1 = stage, v2 = fragment)
	EvtModeChange    = 12 // v1 = old mode, v2 = new mode
)

// EventRingSize is the number of events kept
const EventRingSize = 32

// EventRing is a fixed-size ring of the most recent events
type EventRing struct {
	mu   sync.Mutex
	ring [EventRingSize]Event
	head uint8
	full bool
}

// Record captures an event, overwriting the oldest when full
func (r *EventRing) Record(eventType, shortID uint8, clock, value1, value2 uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.head] = Event{
		Type:    eventType,
		ShortID: shortID,
		Clock:   clock,
		Value1:  value1,
		Value2:  value2,
	}
	r.head = (r.head + 1) % EventRingSize
	if r.head == 0 {
		r.full = true
	}
}

// Events returns the recorded events, oldest first
func (r *EventRing) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Event, r.head)
		copy(out, r.ring[:r.head])
		return out
	}
	out := make([]Event, 0, EventRingSize)
	out = append(out, r.ring[r.head:]...)
	return append(out, r.ring[:r.head]...)
}

// Last returns the most recent event
func (r *EventRing) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full && r.head == 0 {
		return Event{}, false
	}
	return r.ring[(r.head+EventRingSize-1)%EventRingSize], true
}

// Clear empties the ring
func (r *EventRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = [EventRingSize]Event{}
	r.head = 0
	r.full = false
}

// EventName returns the printable name of an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtDetectStart:
		return "DETECT_START"
	case EvtDetectStage:
		return "DETECT_STAGE"
	case EvtGrant:
		return "GRANT"
	case EvtRegistered:
		return "REGISTERED"
	case EvtAllocFail:
		return "ALLOC_FAIL!"
	case EvtSessionExpire:
		return "SESSION_EXPIRE"
	case EvtBusy:
		return "BUSY"
	case EvtRunBroadcast:
		return "RUN"
	case EvtTxFail:
		return "TX_FAIL!"
	case EvtTimeout:
		return "TIMEOUT"
	case EvtFallback:
		return "FALLBACK"
	case EvtModeChange:
		return "MODE"
	default:
		return "UNKNOWN"
	}
}

// Dump writes the ring oldest first, one line per event
func (r *EventRing) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	w("[EVENTS] === Event Ring Dump ===")
	for _, evt := range r.Events() {
		w("[EVENTS] " + EventName(evt.Type) +
			" id=" + itoa(int(evt.ShortID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=0x" + hexPad(evt.Value1, 0) +
			" v2=0x" + hexPad(evt.Value2, 0))
	}
	w("[EVENTS] === End Dump ===")
}
