// Package protocol implements the controller <-> host serial link: COBS
// framing with an additive checksum and the payload layout carried inside.
package protocol

// Version is the panelbus protocol version reported by the tools.
const Version = "1.0.0"

// Framing constants
const (
	// MaxPayloadLen is the largest payload one frame may carry:
	// 2-byte CAN id + 8 data bytes + 1 spare.
	MaxPayloadLen = 11

	// FrameBufferSize bounds the receive buffer: payload, checksum,
	// COBS overhead byte and the delimiter.
	FrameBufferSize = MaxPayloadLen + 3

	// FrameDelimiter terminates every encoded frame.
	FrameDelimiter = 0x00

	// MinMessageLen is the smallest payload the message layer accepts
	// (the 2-byte id/opcode prefix).
	MinMessageLen = 2
)

// Host command prefix and sub-commands. A payload whose first byte is
// HostCommandPrefix is a host command rather than a CAN-carrying frame.
const (
	HostCommandPrefix = 0xFF

	HostCmdNumPanels = 0x01 // request / response: number of registered panels
	HostCmdPanelInfo = 0x02 // request / response: one frame per panel (id, type)
	HostCmdReset     = 0xFF // host -> controller: restart detection; controller -> host: controller restarted
)
