// Package canbus provides the CAN frame model and the bus drivers the
// controller and panels run on: an in-memory loopback for simulation and
// tests, and Linux SocketCAN for the gateway.
package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) data frame.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	MaxStdID   = 0x7FF
	MaxExtID   = 0x1FFFFFFF
	MaxDataLen = 8
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
	ErrClosed     = errors.New("canbus: closed")
)

// NewStandard builds an 11-bit data frame.
func NewStandard(id uint32, data []byte) (Frame, error) {
	return newFrame(id, false, data)
}

// NewExtended builds a 29-bit data frame.
func NewExtended(id uint32, data []byte) (Frame, error) {
	return newFrame(id, true, data)
}

func newFrame(id uint32, ext bool, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Extended: ext, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the valid data bytes.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// String formats the frame candump style: 123#DEADBEEF or 1F000000#.
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	if f.RTR {
		b.WriteString("R")
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}

// Priority returns the arbitration key of the frame: lower wins the bus.
// The 11-bit base identifier is compared first, then the IDE bit
// (standard beats extended), then the 18-bit extension.
func (f Frame) Priority() uint32 {
	if !f.Extended {
		return f.ID << 19
	}
	return (f.ID>>18)<<19 | 1<<18 | f.ID&0x3FFFF
}

// Flags of the SocketCAN can_id word.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// MarshalBinary encodes the frame to the Linux SocketCAN can_frame layout:
// 4-byte little-endian can_id with flags, DLC, 3 padding bytes, 8 data bytes.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame from the SocketCAN can_frame layout.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < frameSize {
		return fmt.Errorf("canbus: need %d bytes, got %d", frameSize, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & MaxExtID
	} else {
		f.ID = id & MaxStdID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
