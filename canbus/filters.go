package canbus

// ByMask accepts a frame when its identifier equals id in every bit set in
// mask, the comparison an acceptance filter register makes
func ByMask(id, mask uint32) FrameFilter {
	id &= mask
	return func(f Frame) bool { return f.ID&mask == id }
}

// ByID accepts one identifier
func ByID(id uint32) FrameFilter {
	return ByMask(id, ^uint32(0))
}

func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

func StandardOnly() FrameFilter {
	return Not(ExtendedOnly())
}

// LenExactly accepts frames carrying n data bytes
func LenExactly(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len == n }
}

// And accepts a frame every filter accepts. Nil filters are skipped, so
// And() accepts everything.
func And(filters ...FrameFilter) FrameFilter {
	return func(f Frame) bool {
		for _, accept := range filters {
			if accept != nil && !accept(f) {
				return false
			}
		}
		return true
	}
}

// Or accepts a frame any filter accepts
func Or(filters ...FrameFilter) FrameFilter {
	return func(f Frame) bool {
		for _, accept := range filters {
			if accept != nil && accept(f) {
				return true
			}
		}
		return false
	}
}

// Not inverts accept. Not(nil) rejects every frame.
func Not(accept FrameFilter) FrameFilter {
	return func(f Frame) bool { return accept != nil && !accept(f) }
}
