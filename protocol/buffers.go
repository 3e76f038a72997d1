package protocol

import "sync"

// InputBuffer provides an abstraction for reading incoming serial bytes
type InputBuffer interface {
	// Data returns the available data slice
	Data() []byte

	// Available returns the number of bytes available
	Available() int

	// Pop removes n bytes from the front of the buffer
	Pop(n int)
}

// OutputBuffer receives encoded frames for transmission
type OutputBuffer interface {
	// Output appends data to the buffer
	Output(data []byte)
}

// SliceInputBuffer implements InputBuffer over a byte slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer creates a new SliceInputBuffer
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte {
	return s.data
}

func (s *SliceInputBuffer) Available() int {
	return len(s.data)
}

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput collects encoded frames until the owner drains them
type ScratchOutput struct {
	buf []byte
}

// NewScratchOutput creates a new ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{buf: make([]byte, 0, 256)}
}

func (s *ScratchOutput) Output(data []byte) {
	s.buf = append(s.buf, data...)
}

// Len returns the number of pending bytes
func (s *ScratchOutput) Len() int {
	return len(s.buf)
}

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte {
	return s.buf
}

// Take returns the accumulated data and clears the buffer
func (s *ScratchOutput) Take() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]
	return out
}

// Reset clears the buffer
func (s *ScratchOutput) Reset() {
	s.buf = s.buf[:0]
}

// FifoBuffer is a bounded ring of received serial bytes. A reader goroutine
// may Write while the superloop consumes through the InputBuffer methods.
type FifoBuffer struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	count int
}

// NewFifoBuffer creates a new FifoBuffer with the specified capacity
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the number of bytes
// stored. Bytes that do not fit are dropped.
func (f *FifoBuffer) Write(data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.buf) - f.count
	if n > len(data) {
		n = len(data)
	}
	for i := 0; i < n; i++ {
		f.buf[(f.read+f.count)%len(f.buf)] = data[i]
		f.count++
	}
	return n
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Free returns the number of bytes available for writing
func (f *FifoBuffer) Free() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) - f.count
}

// Data returns a contiguous copy of the buffered bytes
func (f *FifoBuffer) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, f.count)
	first := copy(out, f.buf[f.read:min(f.read+f.count, len(f.buf))])
	copy(out[first:], f.buf[:f.count-first])
	return out
}

// Pop removes n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n > f.count {
		n = f.count
	}
	f.read = (f.read + n) % len(f.buf)
	f.count -= n
}

// IsEmpty returns true if the buffer is empty
func (f *FifoBuffer) IsEmpty() bool {
	return f.Available() == 0
}

// Reset clears the buffer
func (f *FifoBuffer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = 0
	f.count = 0
}
