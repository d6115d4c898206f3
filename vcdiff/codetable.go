package vcdiff

import (
	"fmt"
	"sync"
)

// An Opcode is one entry of a code table: up to two instructions, each with
// a type, a size (0 meaning the size follows in the instruction section) and
// an address mode.
type Opcode struct {
	Type1, Size1, Mode1 byte
	Type2, Size2, Mode2 byte
}

// A CodeTable maps opcode bytes to instruction pairs, and describes the
// address cache that goes with them.
type CodeTable struct {
	NearSize int
	SameSize int
	Entries  [256]Opcode

	once   sync.Once
	single map[instKey]byte
	double map[pairKey]byte
}

type instKey struct {
	typ, size, mode byte
}

type pairKey struct {
	first, second instKey
}

// minCopy is the shortest COPY that code tables give a size to.
const minCopy = 4

// A tableDesc is a compact description of a code table, in the style of the
// generator xdelta3 uses for its default and alternate tables.
type tableDesc struct {
	addSizes  int // ADD sizes 1..addSizes get their own opcodes
	nearModes int
	sameModes int
	cpySizes  int // COPY sizes minCopy..minCopy+cpySizes-1 get their own opcodes

	addCopyAddMax     int
	addCopyNearCpyMax int
	addCopySameCpyMax int

	copyAddAddMax     int
	copyAddNearCpyMax int
	copyAddSameCpyMax int
}

var defaultDesc = tableDesc{
	addSizes:  17,
	nearModes: 4,
	sameModes: 3,
	cpySizes:  15,

	addCopyAddMax:     4,
	addCopyNearCpyMax: 6,
	addCopySameCpyMax: 4,

	copyAddAddMax:     1,
	copyAddNearCpyMax: 4,
	copyAddSameCpyMax: 4,
}

// alternateDesc trades some of the single-ADD and COPY sizes for more
// ADD/COPY and COPY/ADD pairs with longer copies.
var alternateDesc = tableDesc{
	addSizes:  17,
	nearModes: 4,
	sameModes: 3,
	cpySizes:  12,

	addCopyAddMax:     3,
	addCopyNearCpyMax: 7,
	addCopySameCpyMax: 5,

	copyAddAddMax:     1,
	copyAddNearCpyMax: 7,
	copyAddSameCpyMax: 5,
}

func (d tableDesc) build() *CodeTable {
	t := &CodeTable{
		NearSize: d.nearModes,
		SameSize: d.sameModes,
	}
	modes := 2 + d.nearModes + d.sameModes
	i := 0
	put := func(op Opcode) {
		if i >= len(t.Entries) {
			panic("vcdiff: code table description has too many entries")
		}
		t.Entries[i] = op
		i++
	}

	put(Opcode{Type1: Run})
	put(Opcode{Type1: Add})
	for s := 1; s <= d.addSizes; s++ {
		put(Opcode{Type1: Add, Size1: byte(s)})
	}
	for m := 0; m < modes; m++ {
		put(Opcode{Type1: Copy, Mode1: byte(m)})
		for s := minCopy; s < minCopy+d.cpySizes; s++ {
			put(Opcode{Type1: Copy, Size1: byte(s), Mode1: byte(m)})
		}
	}
	for m := 0; m < modes; m++ {
		cpyMax := d.addCopyNearCpyMax
		if m >= 2+d.nearModes {
			cpyMax = d.addCopySameCpyMax
		}
		for a := 1; a <= d.addCopyAddMax; a++ {
			for c := minCopy; c <= cpyMax; c++ {
				put(Opcode{Type1: Add, Size1: byte(a), Type2: Copy, Size2: byte(c), Mode2: byte(m)})
			}
		}
	}
	for m := 0; m < modes; m++ {
		cpyMax := d.copyAddNearCpyMax
		if m >= 2+d.nearModes {
			cpyMax = d.copyAddSameCpyMax
		}
		for c := minCopy; c <= cpyMax; c++ {
			for a := 1; a <= d.copyAddAddMax; a++ {
				put(Opcode{Type1: Copy, Size1: byte(c), Mode1: byte(m), Type2: Add, Size2: byte(a)})
			}
		}
	}
	if i != len(t.Entries) {
		panic(fmt.Sprintf("vcdiff: code table description has %d entries", i))
	}
	return t
}

var (
	defaultTable   = defaultDesc.build()
	alternateTable = alternateDesc.build()
)

// DefaultCodeTable returns the code table of RFC 3284, section 5.6.
// The result is shared and must not be modified.
func DefaultCodeTable() *CodeTable {
	return defaultTable
}

// AlternateCodeTable returns the alternate code table, which must be
// transmitted in the file header when it is used.
// The result is shared and must not be modified.
func AlternateCodeTable() *CodeTable {
	return alternateTable
}

// IsDefault reports whether t is equivalent to the default code table.
func (t *CodeTable) IsDefault() bool {
	return t.NearSize == defaultTable.NearSize && t.SameSize == defaultTable.SameSize && t.Entries == defaultTable.Entries
}

// Modes returns the number of address modes that t's address cache has.
func (t *CodeTable) Modes() int {
	return 2 + t.NearSize + t.SameSize
}

// tableStringLen is the length of the string form of a code table.
const tableStringLen = 6 * 256

// AppendString appends the RFC 3284 string form of t to dst: six arrays of
// 256 bytes holding the first types, second types, first sizes, second sizes,
// first modes and second modes.
func (t *CodeTable) AppendString(dst []byte) []byte {
	for _, e := range t.Entries {
		dst = append(dst, e.Type1)
	}
	for _, e := range t.Entries {
		dst = append(dst, e.Type2)
	}
	for _, e := range t.Entries {
		dst = append(dst, e.Size1)
	}
	for _, e := range t.Entries {
		dst = append(dst, e.Size2)
	}
	for _, e := range t.Entries {
		dst = append(dst, e.Mode1)
	}
	for _, e := range t.Entries {
		dst = append(dst, e.Mode2)
	}
	return dst
}

// parseTableString builds a CodeTable from its string form.
func parseTableString(s []byte, near, same int) (*CodeTable, error) {
	if len(s) != tableStringLen {
		return nil, fmt.Errorf("%w: code table string is %d bytes", ErrInvalid, len(s))
	}
	t := &CodeTable{NearSize: near, SameSize: same}
	modes := t.Modes()
	for i := range t.Entries {
		e := Opcode{
			Type1: s[i],
			Type2: s[256+i],
			Size1: s[512+i],
			Size2: s[768+i],
			Mode1: s[1024+i],
			Mode2: s[1280+i],
		}
		if e.Type1 > Copy || e.Type2 > Copy || int(e.Mode1) >= modes || int(e.Mode2) >= modes {
			return nil, fmt.Errorf("%w: code table entry %d", ErrInvalid, i)
		}
		t.Entries[i] = e
	}
	return t, nil
}

func (t *CodeTable) buildLookup() {
	t.single = make(map[instKey]byte)
	t.double = make(map[pairKey]byte)
	for i, e := range t.Entries {
		first := instKey{e.Type1, e.Size1, e.Mode1}
		if e.Type1 == NoOp {
			continue
		}
		if e.Type1 == Run {
			first.mode = 0
		}
		if e.Type2 == NoOp {
			if _, ok := t.single[first]; !ok {
				t.single[first] = byte(i)
			}
			continue
		}
		second := instKey{e.Type2, e.Size2, e.Mode2}
		k := pairKey{first, second}
		if _, ok := t.double[k]; !ok {
			t.double[k] = byte(i)
		}
	}
}

// lookupSingle finds an opcode for a lone instruction. If sized is true, the
// opcode carries the size and it must not be written separately.
func (t *CodeTable) lookupSingle(typ byte, size int, mode byte) (op byte, sized bool, ok bool) {
	t.once.Do(t.buildLookup)
	if typ == Run {
		mode = 0
	}
	if size > 0 && size < 256 {
		if op, ok := t.single[instKey{typ, byte(size), mode}]; ok {
			return op, true, true
		}
	}
	op, ok = t.single[instKey{typ, 0, mode}]
	return op, false, ok
}

// lookupDouble finds an opcode encoding two instructions, both with their
// sizes built in.
func (t *CodeTable) lookupDouble(a, b instKey) (byte, bool) {
	t.once.Do(t.buildLookup)
	op, ok := t.double[pairKey{a, b}]
	return op, ok
}

// AppendHeaderData appends the code table data that goes in a file header
// after the HdrCodeTable bit: the cache sizes followed by a delta that turns
// the default table's string form into t's.
func (t *CodeTable) AppendHeaderData(dst []byte) []byte {
	dst = append(dst, byte(t.NearSize), byte(t.SameSize))
	def := defaultTable.AppendString(nil)
	alt := t.AppendString(nil)
	return appendTableDelta(dst, alt, def)
}

// ParseCodeTable decodes code table data from a file header.
func ParseCodeTable(data []byte) (*CodeTable, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: code table data too short", ErrInvalid)
	}
	near, same := int(data[0]), int(data[1])
	if 2+near+same > 256 {
		return nil, fmt.Errorf("%w: address cache sizes %d/%d", ErrInvalid, near, same)
	}
	s, err := decodeAll(data[2:], defaultTable.AppendString(nil), false)
	if err != nil {
		return nil, fmt.Errorf("code table: %w", err)
	}
	return parseTableString(s, near, same)
}

// appendTableDelta appends a complete delta file (with the default code
// table) that reconstructs target from source. Code table strings are
// compared position by position, since the tables are laid out alike.
func appendTableDelta(dst, target, source []byte) []byte {
	var w InstructionWriter
	w.Reset(defaultTable, uint64(len(source)))
	pos := 0
	lit := 0
	for pos < len(target) {
		n := 0
		for pos+n < len(target) && pos+n < len(source) && target[pos+n] == source[pos+n] {
			n++
		}
		if n >= minCopy {
			if lit < pos {
				w.Add(target[lit:pos])
			}
			w.Copy(uint64(pos), n)
			pos += n
			lit = pos
			continue
		}
		pos += n + 1
	}
	if lit < len(target) {
		w.Add(target[lit:])
	}
	w.Flush()

	dst = append(dst, Magic...)
	dst = append(dst, 0)
	return AppendWindow(dst, WindowHeader{
		Indicator: WinSource,
		SourceLen: uint64(len(source)),
		TargetLen: uint64(len(target)),
	}, w.Data(), w.Inst(), w.Addr())
}
