package vcdiff

// Address modes below the NEAR modes.
const (
	ModeSelf = 0
	ModeHere = 1
)

// An AddressCache implements the NEAR and SAME caches of RFC 3284, section
// 5.1. Encoder and decoder keep identical caches, updated after every COPY,
// and reset them at the start of each window.
type AddressCache struct {
	near     []uint64
	nextSlot int
	same     []uint64
}

// Init sizes the cache for a code table and clears it.
func (c *AddressCache) Init(nearSize, sameSize int) {
	if cap(c.near) >= nearSize {
		c.near = c.near[:nearSize]
	} else {
		c.near = make([]uint64, nearSize)
	}
	if cap(c.same) >= sameSize*256 {
		c.same = c.same[:sameSize*256]
	} else {
		c.same = make([]uint64, sameSize*256)
	}
	c.Reset()
}

// Reset clears the cache.
func (c *AddressCache) Reset() {
	for i := range c.near {
		c.near[i] = 0
	}
	for i := range c.same {
		c.same[i] = 0
	}
	c.nextSlot = 0
}

func (c *AddressCache) update(addr uint64) {
	if len(c.near) > 0 {
		c.near[c.nextSlot] = addr
		c.nextSlot = (c.nextSlot + 1) % len(c.near)
	}
	if len(c.same) > 0 {
		c.same[addr%uint64(len(c.same))] = addr
	}
}

// Encode chooses the mode that encodes addr most compactly, given the
// current position here (the length of the source segment plus the number
// of target bytes produced so far). It returns the mode and the value to
// write; for SAME modes the value is a single byte.
func (c *AddressCache) Encode(addr, here uint64) (mode byte, value uint64) {
	defer c.update(addr)

	if len(c.same) > 0 {
		i := addr % uint64(len(c.same))
		if c.same[i] == addr {
			return byte(2 + len(c.near) + int(i/256)), i % 256
		}
	}

	mode, value = ModeSelf, addr
	if d := here - addr; d < value {
		mode, value = ModeHere, d
	}
	for i, n := range c.near {
		if addr >= n && addr-n < value {
			mode, value = byte(2+i), addr-n
		}
	}
	return mode, value
}

// Decode reads an address in the given mode from the start of b and returns
// it along with the number of bytes consumed. The address must be less than
// here.
func (c *AddressCache) Decode(b []byte, mode byte, here uint64) (uint64, int, error) {
	var addr uint64
	var n int
	switch m := int(mode); {
	case m == ModeSelf:
		v, k, err := ReadInteger(b, here)
		if err != nil {
			return 0, 0, err
		}
		addr, n = v, k
	case m == ModeHere:
		v, k, err := ReadInteger(b, here)
		if err != nil {
			return 0, 0, err
		}
		addr, n = here-v, k
	case m < 2+len(c.near):
		v, k, err := ReadInteger(b, MaxSourceOffset)
		if err != nil {
			return 0, 0, err
		}
		addr, n = c.near[m-2]+v, k
	case m < 2+len(c.near)+len(c.same)/256:
		if len(b) == 0 {
			return 0, 0, ErrShortInput
		}
		addr, n = c.same[(m-2-len(c.near))*256+int(b[0])], 1
	default:
		return 0, 0, ErrInvalid
	}
	if addr >= here {
		return 0, 0, ErrInvalid
	}
	c.update(addr)
	return addr, n, nil
}
