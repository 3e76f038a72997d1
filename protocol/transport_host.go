package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrTransportClosed is returned once the host transport has been closed
var ErrTransportClosed = errors.New("protocol: transport stopped")

// ResponseHandler is called for every message received from the controller
type ResponseHandler func(msg Message)

// HostTransport is the host end of the serial link. A background reader
// decodes frames from the port; host-command responses are queued for
// ReceiveResponse and every message is offered to the response handler.
type HostTransport struct {
	// Serial I/O
	port io.ReadWriteCloser

	// Stream decoder shared with the controller side
	rx *Transport

	// Host-command responses for synchronous retrieval
	responseChan chan Message

	responseHandler ResponseHandler
	handlerMutex    sync.RWMutex

	writeMutex sync.Mutex

	// Stop channel for graceful shutdown
	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewHostTransport creates a new host-side transport and starts reading
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		responseChan: make(chan Message, 128),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.rx = NewTransport(nil, t.handleFrame)

	go t.readLoop()

	return t
}

// Send frames and writes a message to the controller
func (t *HostTransport) Send(msg Message) error {
	frame, err := Encode(msg.Bytes())
	if err != nil {
		return fmt.Errorf("failed to build frame: %w", err)
	}

	select {
	case <-t.stopChan:
		return ErrTransportClosed
	default:
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}
	return nil
}

// ReceiveResponse waits for the next host-command response
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("response wait: %w", ctx.Err())
	case <-t.stopChan:
		return Message{}, ErrTransportClosed
	}
}

// DrainResponses discards queued responses
func (t *HostTransport) DrainResponses() {
	for {
		select {
		case <-t.responseChan:
		default:
			return
		}
	}
}

// SetResponseHandler sets a callback for every received message
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMutex.Lock()
	t.responseHandler = handler
	t.handlerMutex.Unlock()
}

// Stats returns the receive counters of the link
func (t *HostTransport) Stats() ReceiveStats {
	return t.rx.Stats()
}

// readLoop continuously reads from the port and decodes frames
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			for _, b := range buffer[:n] {
				t.rx.ReceiveByte(b)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			select {
			case <-t.stopChan:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// handleFrame routes one decoded payload
func (t *HostTransport) handleFrame(payload []byte) {
	msg, err := ParseMessage(payload)
	if err != nil {
		return
	}

	t.handlerMutex.RLock()
	handler := t.responseHandler
	t.handlerMutex.RUnlock()
	if handler != nil {
		handler(msg)
	}

	if !msg.Host {
		return
	}
	select {
	case t.responseChan <- msg:
	default:
		// Response channel full, drop oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the transport and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Done is closed when the reader has exited
func (t *HostTransport) Done() <-chan struct{} {
	return t.doneChan
}
