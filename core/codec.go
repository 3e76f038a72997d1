package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"panelbus/canbus"
)

// Opcode selects the runtime message carried on a standard identifier
type Opcode uint8

// Runtime opcodes
const (
	OpLED     Opcode = 0x1 // controller -> panel: set an LED
	OpADC     Opcode = 0x2 // panel -> controller: analogue value
	OpSwitch  Opcode = 0x3 // panel -> controller: switch state
	OpQuadEnc Opcode = 0x4 // panel -> controller: encoder delta
)

func (o Opcode) String() string {
	switch o {
	case OpLED:
		return "LED"
	case OpADC:
		return "ADC"
	case OpSwitch:
		return "SWITCH"
	case OpQuadEnc:
		return "QUADENC"
	default:
		return "OP(" + itoa(int(o)) + ")"
	}
}

// Standard identifier layout: bits 0..5 short id, bits 6..9 opcode
const (
	ShortIDBits = 6
	ShortIDMask = 1<<ShortIDBits - 1
	OpcodeMask  = 0xF

	MinShortID = 1
	MaxShortID = ShortIDMask
)

// Extended identifier tags. Detection requests carry a 24-bit UID
// fragment in the low bits; ACK carries the short id.
const (
	TagDetect1   uint32 = 0x1F000000
	TagDetect2   uint32 = 0x1E000000
	TagDetect3   uint32 = 0x1D000000
	TagDetect4   uint32 = 0x1C000000
	TagAck       uint32 = 0x1B000000
	TagBroadcast uint32 = 0x00000000
	TagFirmware  uint32 = 0x01000000

	TagMask      uint32 = 0x1F000000
	FragmentMask uint32 = 0x00FFFFFF
)

// DetectStages is the number of detection round trips per UID
const DetectStages = 4

// BroadcastCommand is data[0] of a broadcast frame
type BroadcastCommand uint8

const (
	BroadcastReset       BroadcastCommand = 0x01 // forget short id and restart detection
	BroadcastRun         BroadcastCommand = 0x02 // READY panels enter RUN
	BroadcastStartDetect BroadcastCommand = 0x03 // unconfigured panels (re)start detection
	BroadcastFirmware    BroadcastCommand = 0x04 // enter firmware update mode
)

// FlagReannounce in data[1] of StartDetect makes configured panels
// take part as well. data[2] then holds the re-announce cycle: every
// StartDetect of one cycle carries the same number, and a panel that has
// already announced in that cycle stays out.
const FlagReannounce = 0x01

func (c BroadcastCommand) String() string {
	switch c {
	case BroadcastReset:
		return "RESET"
	case BroadcastRun:
		return "RUN"
	case BroadcastStartDetect:
		return "START_DETECT"
	case BroadcastFirmware:
		return "FIRMWARE"
	default:
		return "BCAST(" + itoa(int(c)) + ")"
	}
}

var (
	ErrNotRuntime     = errors.New("core: not a runtime frame")
	ErrInvalidShortID = errors.New("core: short id out of range")
	ErrBadStage       = errors.New("core: detection stage out of range")
	ErrMalformed      = errors.New("core: malformed frame")
)

// FrameKind classifies a frame for routing
type FrameKind uint8

const (
	KindUnknown FrameKind = iota
	KindRuntime
	KindDetectRequest
	KindDetectEcho
	KindAck
	KindBroadcast
	KindFirmware
)

// ValidShortID reports whether id is assignable
func ValidShortID(id uint8) bool {
	return id >= MinShortID && id <= MaxShortID
}

// RuntimeID builds the standard identifier for an opcode and short id
func RuntimeID(op Opcode, id uint8) uint32 {
	return uint32(op&OpcodeMask)<<ShortIDBits | uint32(id&ShortIDMask)
}

// EncodeRuntime builds a runtime frame
func EncodeRuntime(op Opcode, id uint8, payload []byte) (canbus.Frame, error) {
	if !ValidShortID(id) {
		return canbus.Frame{}, fmt.Errorf("%w: %d", ErrInvalidShortID, id)
	}
	if op == 0 || op > OpcodeMask {
		return canbus.Frame{}, fmt.Errorf("%w: opcode %d", ErrMalformed, op)
	}
	return canbus.NewStandard(RuntimeID(op, id), payload)
}

// DecodeRuntime is the inverse of EncodeRuntime
func DecodeRuntime(f canbus.Frame) (Opcode, uint8, []byte, error) {
	if f.Extended || f.RTR {
		return 0, 0, nil, ErrNotRuntime
	}
	id := uint8(f.ID & ShortIDMask)
	op := Opcode(f.ID >> ShortIDBits & OpcodeMask)
	if !ValidShortID(id) || op == 0 {
		return 0, 0, nil, fmt.Errorf("%w: id 0x%03x", ErrNotRuntime, f.ID)
	}
	payload := make([]byte, f.Len)
	copy(payload, f.Payload())
	return op, id, payload, nil
}

// DetectTag returns the extended tag of a detection stage (1..4)
func DetectTag(stage int) (uint32, error) {
	if stage < 1 || stage > DetectStages {
		return 0, fmt.Errorf("%w: %d", ErrBadStage, stage)
	}
	return TagDetect1 - uint32(stage-1)<<24, nil
}

func stageOfTag(tag uint32) int {
	if tag < TagDetect4 || tag > TagDetect1 {
		return 0
	}
	return int((TagDetect1-tag)>>24) + 1
}

// DetectRequest builds a panel's DETECT_n: the fragment rides in the
// identifier and the frame has no data.
func DetectRequest(stage int, fragment uint32) (canbus.Frame, error) {
	tag, err := DetectTag(stage)
	if err != nil {
		return canbus.Frame{}, err
	}
	return canbus.NewExtended(tag|fragment&FragmentMask, nil)
}

// DetectEcho builds the controller's echo of DETECT_n for stages 1..3
func DetectEcho(stage int, fragment uint32) (canbus.Frame, error) {
	if stage == DetectStages {
		return canbus.Frame{}, fmt.Errorf("%w: stage 4 echo carries a grant", ErrBadStage)
	}
	tag, err := DetectTag(stage)
	if err != nil {
		return canbus.Frame{}, err
	}
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], fragment&FragmentMask)
	return canbus.NewExtended(tag, data[:])
}

// DetectGrant builds the stage-4 echo carrying the granted short id in
// the low byte and the fragment above it.
func DetectGrant(fragment uint32, id uint8) (canbus.Frame, error) {
	if !ValidShortID(id) {
		return canbus.Frame{}, fmt.Errorf("%w: %d", ErrInvalidShortID, id)
	}
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], (fragment&FragmentMask)<<8|uint32(id))
	return canbus.NewExtended(TagDetect4, data[:])
}

// DetectReject builds the stage-4 echo that refuses a UID: the grant
// field is zero because no short id is free.
func DetectReject(fragment uint32) canbus.Frame {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], (fragment&FragmentMask)<<8)
	return canbus.Frame{ID: TagDetect4, Extended: true, Len: 4, Data: [8]byte{data[0], data[1], data[2], data[3]}}
}

// AckFrame builds a panel's ACK_ID with its type and version
func AckFrame(id uint8, panelType, version uint32) (canbus.Frame, error) {
	if !ValidShortID(id) {
		return canbus.Frame{}, fmt.Errorf("%w: %d", ErrInvalidShortID, id)
	}
	var data [8]byte
	binary.LittleEndian.PutUint32(data[0:4], panelType)
	binary.LittleEndian.PutUint32(data[4:8], version)
	return canbus.NewExtended(TagAck|uint32(id), data[:])
}

// BroadcastFrame builds a broadcast command
func BroadcastFrame(cmd BroadcastCommand, flags byte) canbus.Frame {
	return canbus.Frame{ID: TagBroadcast, Extended: true, Len: 2, Data: [8]byte{byte(cmd), flags}}
}

// ReannounceFrame builds StartDetect with FlagReannounce for cycle
func ReannounceFrame(cycle uint8) canbus.Frame {
	return canbus.Frame{
		ID:       TagBroadcast,
		Extended: true,
		Len:      3,
		Data:     [8]byte{byte(BroadcastStartDetect), FlagReannounce, cycle},
	}
}

// BroadcastCycle returns the re-announce cycle of a broadcast, 0 if it
// carries none
func BroadcastCycle(f canbus.Frame) uint8 {
	if f.Len < 3 {
		return 0
	}
	return f.Data[2]
}

// Classify routes a frame without fully decoding it
func Classify(f canbus.Frame) FrameKind {
	if f.RTR {
		return KindUnknown
	}
	if !f.Extended {
		if ValidShortID(uint8(f.ID&ShortIDMask)) && f.ID>>ShortIDBits&OpcodeMask != 0 {
			return KindRuntime
		}
		return KindUnknown
	}

	tag := f.ID & TagMask
	switch {
	case f.ID == TagBroadcast:
		if f.Len >= 1 {
			return KindBroadcast
		}
	case tag == TagFirmware:
		return KindFirmware
	case tag == TagAck:
		if f.Len == 8 && ValidShortID(uint8(f.ID&FragmentMask)) && f.ID&FragmentMask <= MaxShortID {
			return KindAck
		}
	case stageOfTag(tag) != 0:
		if f.Len == 0 {
			return KindDetectRequest
		}
		if f.Len == 4 && f.ID == tag {
			return KindDetectEcho
		}
	}
	return KindUnknown
}

// ParseDetectRequest returns the stage and fragment of a DETECT_n request
func ParseDetectRequest(f canbus.Frame) (int, uint32, error) {
	if Classify(f) != KindDetectRequest {
		return 0, 0, fmt.Errorf("%w: not a detect request: %s", ErrMalformed, f)
	}
	return stageOfTag(f.ID & TagMask), f.ID & FragmentMask, nil
}

// ParseDetectEcho returns the stage and fragment of an echo. For stage 4
// it also returns the granted short id.
func ParseDetectEcho(f canbus.Frame) (int, uint32, uint8, error) {
	if Classify(f) != KindDetectEcho {
		return 0, 0, 0, fmt.Errorf("%w: not a detect echo: %s", ErrMalformed, f)
	}
	stage := stageOfTag(f.ID)
	v := binary.LittleEndian.Uint32(f.Data[0:4])
	if stage == DetectStages {
		return stage, v >> 8, uint8(v), nil
	}
	return stage, v & FragmentMask, 0, nil
}

// ParseAck returns the short id, type and version of an ACK_ID
func ParseAck(f canbus.Frame) (uint8, uint32, uint32, error) {
	if Classify(f) != KindAck {
		return 0, 0, 0, fmt.Errorf("%w: not an ack: %s", ErrMalformed, f)
	}
	return uint8(f.ID & FragmentMask),
		binary.LittleEndian.Uint32(f.Data[0:4]),
		binary.LittleEndian.Uint32(f.Data[4:8]), nil
}

// ParseBroadcast returns the command and flags of a broadcast
func ParseBroadcast(f canbus.Frame) (BroadcastCommand, byte, error) {
	if Classify(f) != KindBroadcast {
		return 0, 0, fmt.Errorf("%w: not a broadcast: %s", ErrMalformed, f)
	}
	var flags byte
	if f.Len >= 2 {
		flags = f.Data[1]
	}
	return BroadcastCommand(f.Data[0]), flags, nil
}

// Acceptance filters used by the panels for each run mode

// BroadcastFilter accepts broadcast commands
func BroadcastFilter() canbus.FrameFilter {
	return canbus.And(canbus.ExtendedOnly(), canbus.ByID(TagBroadcast))
}

// DetectEchoFilter accepts echoes for one detection stage
func DetectEchoFilter(stage int) canbus.FrameFilter {
	tag, err := DetectTag(stage)
	if err != nil {
		return canbus.Not(nil)
	}
	return canbus.And(canbus.ExtendedOnly(), canbus.ByID(tag), canbus.LenExactly(4))
}

// RuntimeFilter accepts standard frames addressed to one short id
func RuntimeFilter(id uint8) canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.ByMask(uint32(id), ShortIDMask))
}

// FirmwareFilter accepts firmware block frames
func FirmwareFilter() canbus.FrameFilter {
	return canbus.And(canbus.ExtendedOnly(), canbus.ByMask(TagFirmware, TagMask))
}
