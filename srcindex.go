package xdelta

import "encoding/binary"

// srcHashLen is the length of the strings the source index is keyed by. It
// is also the shortest match the encoder takes from the source.
const srcHashLen = 8

const hashMul64 = 0x1e35a7bd1e35a7bd

// A sourceIndex maps 8-byte strings of the source to their positions. It
// is filled one block at a time, in order.
type sourceIndex struct {
	table []sourceEntry
	shift uint
	step  int64

	next int64 // next block to index
	done bool  // the last block has been indexed

	// The last bytes of the previous block, for the strings that cross
	// into the next one.
	tail    [srcHashLen - 1]byte
	tailLen int
	tailPos int64
}

type sourceEntry struct {
	key uint64
	pos int64 // one more than the position; 0 marks an empty slot
}

// newSourceIndex returns an index with 1<<bits slots that records every
// step'th position.
func newSourceIndex(bits uint, step int64) *sourceIndex {
	return &sourceIndex{
		table: make([]sourceEntry, 1<<bits),
		shift: 64 - bits,
		step:  step,
	}
}

func (x *sourceIndex) slot(key uint64) *sourceEntry {
	return &x.table[(key*hashMul64)>>x.shift]
}

// insert records that key occurs at pos. If the key is already present,
// the earlier position is kept.
func (x *sourceIndex) insert(key uint64, pos int64) {
	e := x.slot(key)
	if e.pos != 0 && e.key == key {
		return
	}
	e.key = key
	e.pos = pos + 1
}

// lookup returns a position where key occurs.
func (x *sourceIndex) lookup(key uint64) (int64, bool) {
	e := x.slot(key)
	if e.pos == 0 || e.key != key {
		return 0, false
	}
	return e.pos - 1, true
}

// indexBlock adds the block that starts at source offset off.
func (x *sourceIndex) indexBlock(off int64, data []byte) {
	if x.tailLen > 0 {
		var buf [2 * (srcHashLen - 1)]byte
		n := copy(buf[:], x.tail[:x.tailLen])
		n += copy(buf[n:], data)
		for i := 0; i < x.tailLen && i+srcHashLen <= n; i++ {
			if pos := x.tailPos + int64(i); pos%x.step == 0 {
				x.insert(binary.LittleEndian.Uint64(buf[i:]), pos)
			}
		}
	}

	first := (x.step - off%x.step) % x.step
	for i := first; i+srcHashLen <= int64(len(data)); i += x.step {
		x.insert(binary.LittleEndian.Uint64(data[i:]), off+i)
	}

	tail := min(len(data), srcHashLen-1)
	x.tailLen = copy(x.tail[:], data[len(data)-tail:])
	x.tailPos = off + int64(len(data)-tail)
}
