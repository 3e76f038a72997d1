package protocol

import (
	"errors"
	"sync/atomic"
)

// FrameHandler receives the payload of every valid frame. The slice is
// only valid for the duration of the call.
type FrameHandler func(payload []byte)

// ReceiveStats counts what the receiver has seen on the link
type ReceiveStats struct {
	Frames         uint32 // valid payloads handed to the handler
	Overflows      uint32 // buffer filled without a delimiter
	ChecksumErrors uint32 // block decoded but did not sum to zero
	FormatErrors   uint32 // block was not valid COBS
	Runts          uint32 // valid block too short for the message layer
}

// Transport is the byte-stream side of the serial link. Receive consumes
// bytes into a bounded buffer and dispatches each delimited frame;
// EncodeFrame writes framed payloads to the output buffer.
type Transport struct {
	buf [FrameBufferSize]byte
	n   int

	isSynchronized uint32 // atomic bool; cleared after an overflow until the next delimiter

	output        OutputBuffer
	handler       FrameHandler
	flushCallback func()

	frames         atomic.Uint32
	overflows      atomic.Uint32
	checksumErrors atomic.Uint32
	formatErrors   atomic.Uint32
	runts          atomic.Uint32
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler FrameHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		output:         output,
		handler:        handler,
	}
}

// Receive processes every byte available in the input buffer
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	for _, b := range data {
		t.ReceiveByte(b)
	}
	input.Pop(len(data))
}

// ReceiveByte feeds a single byte through the frame receiver
func (t *Transport) ReceiveByte(b byte) {
	if b == FrameDelimiter {
		if !t.getSynchronized() {
			// Tail of an overflowed frame; resume with the next byte
			t.setSynchronized(true)
			t.n = 0
			return
		}
		if t.n == 0 {
			return
		}
		frame := t.buf[:t.n]
		t.n = 0
		t.dispatch(frame)
		return
	}

	if !t.getSynchronized() {
		return
	}
	if t.n == len(t.buf) {
		t.overflows.Add(1)
		t.n = 0
		t.setSynchronized(false)
		return
	}
	t.buf[t.n] = b
	t.n++
}

func (t *Transport) dispatch(frame []byte) {
	payload, err := Decode(frame)
	switch {
	case errors.Is(err, ErrChecksum):
		t.checksumErrors.Add(1)
		return
	case err != nil:
		t.formatErrors.Add(1)
		return
	}
	if len(payload) < MinMessageLen {
		t.runts.Add(1)
		return
	}

	t.frames.Add(1)
	if t.handler != nil {
		t.handler(payload)
	}
}

// EncodeFrame frames payload and writes it to the output buffer
func (t *Transport) EncodeFrame(payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	t.output.Output(frame)

	if t.flushCallback != nil {
		t.flushCallback()
	}
	return nil
}

// SendMessage encodes a message and writes it to the output buffer
func (t *Transport) SendMessage(msg Message) error {
	return t.EncodeFrame(msg.Bytes())
}

// Reset drops any partial frame and resynchronises
func (t *Transport) Reset() {
	t.n = 0
	t.setSynchronized(true)
}

// SetFlushCallback sets a callback invoked after every encoded frame
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// Stats returns a snapshot of the receive counters
func (t *Transport) Stats() ReceiveStats {
	return ReceiveStats{
		Frames:         t.frames.Load(),
		Overflows:      t.overflows.Load(),
		ChecksumErrors: t.checksumErrors.Load(),
		FormatErrors:   t.formatErrors.Load(),
		Runts:          t.runts.Load(),
	}
}

// Helper methods for atomic operations
func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
