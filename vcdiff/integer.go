package vcdiff

// maxIntegerLen is the longest encoding of a 64-bit integer.
const maxIntegerLen = 10

// AppendInteger appends x to dst in the RFC 3284 integer format: base 128,
// most significant digit first, with the high bit set on every byte but the
// last.
func AppendInteger(dst []byte, x uint64) []byte {
	var buf [maxIntegerLen]byte
	i := len(buf) - 1
	buf[i] = byte(x & 0x7f)
	x >>= 7
	for x != 0 {
		i--
		buf[i] = byte(x&0x7f) | 0x80
		x >>= 7
	}
	return append(dst, buf[i:]...)
}

// IntegerLen returns the number of bytes AppendInteger uses for x.
func IntegerLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}

// ReadInteger decodes an integer from the start of b. It returns the value
// and the number of bytes consumed. It returns ErrShortInput if b ends before
// the integer does, and ErrOverflow if the value exceeds max.
func ReadInteger(b []byte, max uint64) (uint64, int, error) {
	var x uint64
	for i, c := range b {
		if i == maxIntegerLen || x > (1<<64-1)>>7 {
			return 0, 0, ErrOverflow
		}
		x = x<<7 | uint64(c&0x7f)
		if c&0x80 == 0 {
			if x > max {
				return 0, 0, ErrOverflow
			}
			return x, i + 1, nil
		}
	}
	if len(b) >= maxIntegerLen {
		return 0, 0, ErrOverflow
	}
	return 0, 0, ErrShortInput
}

// An IntegerParser accumulates an integer one byte at a time, for callers that
// receive their input in arbitrary pieces.
type IntegerParser struct {
	value uint64
	n     int
}

// Feed consumes bytes from b until the integer is complete. It returns the
// number of bytes used and whether the integer is complete.
func (p *IntegerParser) Feed(b []byte, max uint64) (used int, done bool, err error) {
	for i, c := range b {
		if p.n == maxIntegerLen || p.value > (1<<64-1)>>7 {
			return i, false, ErrOverflow
		}
		p.value = p.value<<7 | uint64(c&0x7f)
		p.n++
		if c&0x80 == 0 {
			if p.value > max {
				return i + 1, false, ErrOverflow
			}
			return i + 1, true, nil
		}
	}
	return len(b), false, nil
}

// Value returns the completed integer and resets the parser.
func (p *IntegerParser) Value() uint64 {
	v := p.value
	*p = IntegerParser{}
	return v
}
