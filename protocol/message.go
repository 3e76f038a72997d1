package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortMessage is returned for payloads without the 2-byte prefix
	ErrShortMessage = errors.New("protocol: message too short")

	// ErrNotPanelInfo is returned when a message is not a PNL_INFO response
	ErrNotPanelInfo = errors.New("protocol: not a panel info message")
)

// MaxCANData is the data length of a classical CAN frame
const MaxCANData = 8

// Message is one decoded serial payload. Either a host command
// (Host set, Command holds the sub-command) or a CAN frame carried
// across the link (CANID holds the 11-bit identifier).
type Message struct {
	Host    bool
	Command byte
	CANID   uint16
	Data    []byte
}

// ParseMessage splits a payload into its prefix and data. The returned
// message does not alias payload.
func ParseMessage(payload []byte) (Message, error) {
	if len(payload) < MinMessageLen {
		return Message{}, ErrShortMessage
	}

	data := make([]byte, len(payload)-2)
	copy(data, payload[2:])

	if payload[0] == HostCommandPrefix {
		return Message{Host: true, Command: payload[1], Data: data}, nil
	}
	if len(data) > MaxCANData {
		return Message{}, fmt.Errorf("protocol: CAN message carries %d data bytes", len(data))
	}
	return Message{CANID: uint16(payload[0])<<8 | uint16(payload[1]), Data: data}, nil
}

// Bytes returns the payload form of the message
func (m Message) Bytes() []byte {
	out := make([]byte, 0, 2+len(m.Data))
	if m.Host {
		out = append(out, HostCommandPrefix, m.Command)
	} else {
		out = append(out, byte(m.CANID>>8), byte(m.CANID))
	}
	return append(out, m.Data...)
}

// CANMessage builds a CAN-carrying message
func CANMessage(id uint16, data []byte) Message {
	d := make([]byte, len(data))
	copy(d, data)
	return Message{CANID: id, Data: d}
}

// HostCommand builds a host command with optional arguments
func HostCommand(sub byte, args ...byte) Message {
	return Message{Host: true, Command: sub, Data: args}
}

// NumPanelsResponse builds the NUM_PNLS response
func NumPanelsResponse(count uint8) Message {
	return HostCommand(HostCmdNumPanels, count)
}

// PanelInfoResponse builds one PNL_INFO response: short id then the
// panel type, big-endian.
func PanelInfoResponse(id uint8, panelType uint32) Message {
	args := make([]byte, 5)
	args[0] = id
	binary.BigEndian.PutUint32(args[1:], panelType)
	return HostCommand(HostCmdPanelInfo, args...)
}

// ParsePanelInfo extracts id and type from a PNL_INFO response
func ParsePanelInfo(m Message) (uint8, uint32, error) {
	if !m.Host || m.Command != HostCmdPanelInfo || len(m.Data) < 5 {
		return 0, 0, ErrNotPanelInfo
	}
	return m.Data[0], binary.BigEndian.Uint32(m.Data[1:5]), nil
}
