package vcdiff

import (
	"fmt"
	"io"
)

// An Instruction is one decoded delta instruction.
type Instruction struct {
	Type byte // Add, Run or Copy
	Size int

	// Addr is the address of a Copy, in the window's combined address space
	// (the source segment followed by the target window).
	Addr uint64
	Mode byte

	// Byte is the repeated byte of a Run.
	Byte byte

	// Data holds the literal bytes of an Add. It aliases the window's data
	// section.
	Data []byte
}

func (inst Instruction) String() string {
	switch inst.Type {
	case Add:
		return fmt.Sprintf("ADD %d", inst.Size)
	case Run:
		return fmt.Sprintf("RUN %d %#02x", inst.Size, inst.Byte)
	case Copy:
		return fmt.Sprintf("COPY %d @%d (mode %d)", inst.Size, inst.Addr, inst.Mode)
	}
	return fmt.Sprintf("NOOP %d", inst.Size)
}

// An InstructionWriter builds the three sections of a window. Consecutive
// instructions are merged into a single opcode when the code table has one
// for the pair.
type InstructionWriter struct {
	table *CodeTable
	cache AddressCache

	data []byte
	inst []byte
	addr []byte

	srcLen uint64
	tpos   uint64

	pending    instKey
	pendSize   int
	hasPending bool
}

// Reset prepares w for a new window whose source segment is srcLen bytes
// long.
func (w *InstructionWriter) Reset(table *CodeTable, srcLen uint64) {
	w.table = table
	w.cache.Init(table.NearSize, table.SameSize)
	w.data = w.data[:0]
	w.inst = w.inst[:0]
	w.addr = w.addr[:0]
	w.srcLen = srcLen
	w.tpos = 0
	w.hasPending = false
}

// Add emits the literal bytes p.
func (w *InstructionWriter) Add(p []byte) {
	if len(p) == 0 {
		return
	}
	w.data = append(w.data, p...)
	w.push(instKey{typ: Add}, len(p))
}

// Run emits n copies of c.
func (w *InstructionWriter) Run(c byte, n int) {
	if n <= 0 {
		return
	}
	w.data = append(w.data, c)
	w.push(instKey{typ: Run}, n)
}

// Copy emits a copy of n bytes from addr, which is less than the source
// segment length for source data, and the source segment length plus a
// window offset for target data.
func (w *InstructionWriter) Copy(addr uint64, n int) {
	if n <= 0 {
		return
	}
	mode, v := w.cache.Encode(addr, w.srcLen+w.tpos)
	if int(mode) >= 2+w.table.NearSize {
		w.addr = append(w.addr, byte(v))
	} else {
		w.addr = AppendInteger(w.addr, v)
	}
	w.push(instKey{typ: Copy, mode: mode}, n)
}

func (w *InstructionWriter) push(k instKey, size int) {
	w.tpos += uint64(size)
	if w.hasPending {
		p := w.pending
		if w.pendSize < 256 && size < 256 {
			p.size = byte(w.pendSize)
			k.size = byte(size)
			if op, ok := w.table.lookupDouble(p, k); ok {
				w.inst = append(w.inst, op)
				w.hasPending = false
				return
			}
			k.size = 0
		}
		w.flushPending()
	}
	w.pending = k
	w.pendSize = size
	w.hasPending = true
}

func (w *InstructionWriter) flushPending() {
	if !w.hasPending {
		return
	}
	p := w.pending
	op, sized, ok := w.table.lookupSingle(p.typ, w.pendSize, p.mode)
	if !ok {
		panic(fmt.Sprintf("vcdiff: code table has no opcode for type %d mode %d", p.typ, p.mode))
	}
	w.inst = append(w.inst, op)
	if !sized {
		w.inst = AppendInteger(w.inst, uint64(w.pendSize))
	}
	w.hasPending = false
}

// Flush writes any instruction that is being held back in the hope of
// pairing it with the next one. It must be called before the sections are
// used.
func (w *InstructionWriter) Flush() {
	w.flushPending()
}

// TargetLen returns the number of target bytes the instructions so far
// produce.
func (w *InstructionWriter) TargetLen() uint64 { return w.tpos }

func (w *InstructionWriter) Data() []byte { return w.data }
func (w *InstructionWriter) Inst() []byte { return w.inst }
func (w *InstructionWriter) Addr() []byte { return w.addr }

// An InstructionReader decodes the instructions of one window.
type InstructionReader struct {
	table *CodeTable
	cache AddressCache

	data []byte
	inst []byte
	addr []byte

	srcLen uint64
	tgtLen uint64
	tpos   uint64

	second    instKey
	hasSecond bool
}

// Reset prepares r to read a window's (already decompressed) sections.
func (r *InstructionReader) Reset(table *CodeTable, srcLen, tgtLen uint64, data, inst, addr []byte) {
	r.table = table
	r.cache.Init(table.NearSize, table.SameSize)
	r.data = data
	r.inst = inst
	r.addr = addr
	r.srcLen = srcLen
	r.tgtLen = tgtLen
	r.tpos = 0
	r.hasSecond = false
}

// Next returns the next instruction. At the end of the window it returns
// io.EOF, after checking that the instructions produced exactly the target
// length and used up all three sections.
func (r *InstructionReader) Next() (Instruction, error) {
	for {
		var h instKey
		if r.hasSecond {
			h = r.second
			r.hasSecond = false
		} else {
			if len(r.inst) == 0 {
				return Instruction{}, r.finish()
			}
			op := r.table.Entries[r.inst[0]]
			r.inst = r.inst[1:]
			h = instKey{op.Type1, op.Size1, op.Mode1}
			r.second = instKey{op.Type2, op.Size2, op.Mode2}
			r.hasSecond = true
		}
		if h.typ == NoOp {
			continue
		}
		return r.decode(h)
	}
}

func (r *InstructionReader) finish() error {
	if r.tpos != r.tgtLen {
		return fmt.Errorf("%w: instructions produce %d bytes, window has %d", ErrInvalid, r.tpos, r.tgtLen)
	}
	if len(r.data) != 0 || len(r.addr) != 0 {
		return fmt.Errorf("%w: %d data and %d address bytes left over", ErrInvalid, len(r.data), len(r.addr))
	}
	return io.EOF
}

func (r *InstructionReader) decode(h instKey) (Instruction, error) {
	remaining := r.tgtLen - r.tpos
	size := uint64(h.size)
	if size == 0 {
		v, n, err := ReadInteger(r.inst, remaining)
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: instruction size: %v", ErrInvalid, err)
		}
		r.inst = r.inst[n:]
		size = v
	}
	if size == 0 || size > remaining {
		return Instruction{}, fmt.Errorf("%w: instruction size %d with %d bytes left in window", ErrInvalid, size, remaining)
	}

	inst := Instruction{Type: h.typ, Size: int(size), Mode: h.mode}
	switch h.typ {
	case Add:
		if uint64(len(r.data)) < size {
			return Instruction{}, fmt.Errorf("%w: data section too short for ADD", ErrInvalid)
		}
		inst.Data = r.data[:size:size]
		r.data = r.data[size:]
	case Run:
		if len(r.data) == 0 {
			return Instruction{}, fmt.Errorf("%w: data section too short for RUN", ErrInvalid)
		}
		inst.Byte = r.data[0]
		r.data = r.data[1:]
	case Copy:
		here := r.srcLen + r.tpos
		addr, n, err := r.cache.Decode(r.addr, h.mode, here)
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: COPY address: %v", ErrInvalid, err)
		}
		r.addr = r.addr[n:]
		if addr < r.srcLen && addr+size > r.srcLen {
			return Instruction{}, fmt.Errorf("%w: COPY crosses the end of the source segment", ErrInvalid)
		}
		inst.Addr = addr
	default:
		return Instruction{}, fmt.Errorf("%w: instruction type %d", ErrInvalid, h.typ)
	}
	r.tpos += size
	return inst, nil
}
