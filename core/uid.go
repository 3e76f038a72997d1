package core

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UIDLen is the size of a panel unique id in bytes
const UIDLen = 12

// UID is a panel's 96-bit factory unique id as three 32-bit words.
// During detection it travels as four 24-bit fragments, most significant
// first.
type UID [3]uint32

// Fragment returns the 24-bit fragment sent in DETECT_stage
func (u UID) Fragment(stage int) uint32 {
	switch stage {
	case 1:
		return u[0] >> 8
	case 2:
		return (u[0]&0xFF)<<16 | u[1]>>16
	case 3:
		return (u[1]&0xFFFF)<<8 | u[2]>>24
	case 4:
		return u[2] & 0xFFFFFF
	}
	return 0
}

// SetFragment stores the bits carried by DETECT_stage
func (u *UID) SetFragment(stage int, fragment uint32) {
	f := fragment & FragmentMask
	switch stage {
	case 1:
		u[0] = f<<8 | u[0]&0xFF
	case 2:
		u[0] = u[0]&^0xFF | f>>16
		u[1] = (f&0xFFFF)<<16 | u[1]&0xFFFF
	case 3:
		u[1] = u[1]&^0xFFFF | f>>8
		u[2] = (f&0xFF)<<24 | u[2]&0xFFFFFF
	case 4:
		u[2] = u[2]&^0xFFFFFF | f
	}
}

// IsZero reports whether the UID is unset
func (u UID) IsZero() bool {
	return u == UID{}
}

// String returns the UID as 24 hex digits
func (u UID) String() string {
	return hexPad(u[0], 8) + hexPad(u[1], 8) + hexPad(u[2], 8)
}

// ParseUID parses 24 hex digits (separators ':' '-' and spaces ignored)
func ParseUID(s string) (UID, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	clean = strings.TrimPrefix(strings.ToLower(clean), "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return UID{}, fmt.Errorf("core: invalid uid %q: %w", s, err)
	}
	if len(raw) != UIDLen {
		return UID{}, fmt.Errorf("core: uid %q has %d bytes, want %d", s, len(raw), UIDLen)
	}
	var u UID
	for i := range u {
		b := raw[i*4 : i*4+4]
		u[i] = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return u, nil
}

// PanelIdentity is everything the controller knows about a registered
// panel
type PanelIdentity struct {
	UID      UID
	Type     uint32
	Version  uint32
	ShortID  uint8
	LastSeen uint32 // controller clock, ms
}
