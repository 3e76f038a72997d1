package canbus

import (
	"cmp"
	"slices"
	"sync"
)

// endpointQueueSize mirrors a small controller receive FIFO.
const endpointQueueSize = 256

// LoopbackBus is an in-memory CAN bus for tests and simulations.
// Multiple endpoints opened from the same bus exchange frames; a sender
// never receives its own frames.
//
// By default a frame is delivered as soon as it is sent. With
// WithArbitration, frames are held on the wire until Tick, which delivers
// them lowest identifier first the way simultaneous transmitters resolve
// on a real bus.
type LoopbackBus struct {
	mu        sync.Mutex
	closed    bool
	endpoints []*Endpoint
	arbitrate bool
	wire      []wireFrame
}

type wireFrame struct {
	from  *Endpoint
	frame Frame
}

// LoopbackOption configures a LoopbackBus.
type LoopbackOption func(*LoopbackBus)

// WithArbitration holds frames until Tick and delivers them in priority
// order.
func WithArbitration() LoopbackOption {
	return func(b *LoopbackBus) { b.arbitrate = true }
}

// NewLoopbackBus creates a new loopback bus.
func NewLoopbackBus(opts ...LoopbackOption) *LoopbackBus {
	b := &LoopbackBus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open creates a new endpoint attached to the bus.
func (b *LoopbackBus) Open() *Endpoint {
	ep := &Endpoint{bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		return ep
	}
	b.endpoints = append(b.endpoints, ep)
	return ep
}

// Tick delivers every frame waiting on the wire and returns how many were
// delivered. It is a no-op without WithArbitration.
func (b *LoopbackBus) Tick() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	wire := b.wire
	b.wire = nil
	slices.SortStableFunc(wire, func(a, c wireFrame) int {
		return cmp.Compare(a.frame.Priority(), c.frame.Priority())
	})
	for _, w := range wire {
		b.deliverLocked(w.from, w.frame)
	}
	return len(wire)
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ep := range b.endpoints {
		ep.mu.Lock()
		ep.dead = true
		ep.queue = nil
		ep.mu.Unlock()
	}
	b.endpoints = nil
	b.wire = nil
	return nil
}

func (b *LoopbackBus) send(from *Endpoint, frame Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.arbitrate {
		b.wire = append(b.wire, wireFrame{from: from, frame: frame})
		return nil
	}
	b.deliverLocked(from, frame)
	return nil
}

func (b *LoopbackBus) deliverLocked(from *Endpoint, frame Frame) {
	for _, ep := range b.endpoints {
		if ep != from {
			ep.enqueue(frame)
		}
	}
}

// Endpoint is one node's connection to a LoopbackBus. Faults can be
// injected per endpoint: a send error makes every Send fail, a drop filter
// silently loses matching inbound frames.
type Endpoint struct {
	bus *LoopbackBus

	mu        sync.Mutex
	queue     []Frame
	dead      bool
	sendErr   error
	drop      FrameFilter
	overflows int
}

// Send broadcasts the frame to all other endpoints on the same bus.
func (e *Endpoint) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.sendErr != nil {
		err := e.sendErr
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	return e.bus.send(e, frame)
}

// TryReceive pops the oldest queued frame.
func (e *Endpoint) TryReceive() (Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Frame{}, false
	}
	f := e.queue[0]
	e.queue = e.queue[1:]
	return f, true
}

// Close detaches the endpoint from the bus.
func (e *Endpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.bus.endpoints = slices.DeleteFunc(e.bus.endpoints, func(ep *Endpoint) bool { return ep == e })

	e.mu.Lock()
	e.dead = true
	e.queue = nil
	e.mu.Unlock()
	return nil
}

// Pending returns the number of queued inbound frames.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Overflows returns how many inbound frames were lost to a full queue.
func (e *Endpoint) Overflows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overflows
}

// SetSendError makes every Send fail with err until cleared with nil.
func (e *Endpoint) SetSendError(err error) {
	e.mu.Lock()
	e.sendErr = err
	e.mu.Unlock()
}

// SetDropFilter silently discards inbound frames matching filter.
func (e *Endpoint) SetDropFilter(filter FrameFilter) {
	e.mu.Lock()
	e.drop = filter
	e.mu.Unlock()
}

func (e *Endpoint) enqueue(frame Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || (e.drop != nil && e.drop(frame)) {
		return
	}
	if len(e.queue) >= endpointQueueSize {
		e.overflows++
		return
	}
	e.queue = append(e.queue, frame)
}
