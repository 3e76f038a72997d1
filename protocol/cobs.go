package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksum is returned when a decoded block does not sum to zero.
	ErrChecksum = errors.New("protocol: checksum mismatch")

	// ErrInvalidCOBS is returned for a block that is not valid COBS.
	ErrInvalidCOBS = errors.New("protocol: invalid COBS block")

	// ErrPayloadTooLong is returned when a payload exceeds MaxPayloadLen.
	ErrPayloadTooLong = errors.New("protocol: payload too long")
)

// Checksum returns the byte that makes the sum of p plus itself zero
// (mod 256).
func Checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return -sum
}

// EncodeCOBS stuffs src so that the result contains no zero bytes.
// The delimiter is not appended.
func EncodeCOBS(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx := 0
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			// Maximal run: close the block without an implied zero
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

// DecodeCOBS reverses EncodeCOBS. src must not include the delimiter.
func DecodeCOBS(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))

	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 {
			return nil, ErrInvalidCOBS
		}
		i++

		end := i + code - 1
		if end > len(src) {
			return nil, ErrInvalidCOBS
		}
		for ; i < end; i++ {
			if src[i] == 0 {
				return nil, ErrInvalidCOBS
			}
			dst = append(dst, src[i])
		}
		if code < 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}

// Encode frames a payload for the serial link: checksum appended,
// COBS-stuffed, terminated by a single FrameDelimiter.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLong, len(payload), MaxPayloadLen)
	}

	block := make([]byte, len(payload)+1)
	copy(block, payload)
	block[len(payload)] = Checksum(payload)

	frame := EncodeCOBS(block)
	return append(frame, FrameDelimiter), nil
}

// Decode reverses Encode. The trailing delimiter is optional.
func Decode(frame []byte) ([]byte, error) {
	if n := len(frame); n > 0 && frame[n-1] == FrameDelimiter {
		frame = frame[:n-1]
	}
	if len(frame) == 0 {
		return nil, ErrInvalidCOBS
	}

	block, err := DecodeCOBS(frame)
	if err != nil {
		return nil, err
	}
	if len(block) == 0 {
		return nil, ErrInvalidCOBS
	}

	var sum byte
	for _, b := range block {
		sum += b
	}
	if sum != 0 {
		return nil, ErrChecksum
	}
	return block[:len(block)-1], nil
}
