package core

// Small formatting helpers that avoid fmt on the event path

// itoa converts an integer to a string
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa(uint32(-n))
	}
	return utoa(uint32(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

const hexDigits = "0123456789abcdef"

// hexPad formats v in lowercase hex, left-padded with zeros to width
// digits. A width of 0 means no padding.
func hexPad(v uint32, width int) string {
	var buf [8]byte
	pos := len(buf)
	for v > 0 || pos == len(buf) {
		pos--
		buf[pos] = hexDigits[v&0xF]
		v >>= 4
	}
	for len(buf)-pos < width && pos > 0 {
		pos--
		buf[pos] = '0'
	}
	return string(buf[pos:])
}
