package xdelta

import (
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/xdelta/secondary"
	"github.com/andybalholm/xdelta/vcdiff"
)

type decodePhase int

const (
	decodeHeader decodePhase = iota
	decodeJustHeader
	decodeIndicator
	decodeSourceLen
	decodeSourcePos
	decodeDeltaLen
	decodeDelta
	decodeApply
	decodeFinish
	decodeDone
)

type decoder struct {
	s     *Stream
	phase decodePhase

	table *vcdiff.CodeTable
	sec   secondary.Compressor

	// hdr accumulates the file header until it is complete.
	hdr []byte

	num    vcdiff.IntegerParser
	wh     vcdiff.WindowHeader
	encLen int
	enc    []byte

	r        vcdiff.InstructionReader
	inst     vcdiff.Instruction
	haveInst bool
	copied   int

	target  []byte
	windows int
	offset  int64
}

func newDecoder(s *Stream) *decoder {
	s.appHeader = nil
	return &decoder{s: s}
}

// maxHeaderLen bounds the buffered file header: a code table and an
// application header.
const maxHeaderLen = 2*vcdiff.HardMaxWindowSize + 64

func (d *decoder) step() (State, error) {
	s := d.s
	for {
		switch d.phase {
		case decodeHeader:
			if len(s.in) == 0 {
				if s.flush {
					return 0, invalidInput("missing file header")
				}
				return NeedInput, nil
			}
			return d.readHeader()

		case decodeJustHeader, decodeDone:
			d.phase = decodeDone
			return Done, nil

		case decodeIndicator:
			if len(s.in) == 0 {
				if s.flush {
					d.phase = decodeDone
					return Done, nil
				}
				return NeedInput, nil
			}
			ind := s.take(1)[0]
			if err := vcdiff.CheckWindowIndicator(ind); err != nil {
				return 0, fmt.Errorf("%w: window %d: %v", ErrInvalidInput, d.windows, err)
			}
			if ind&vcdiff.WinTarget != 0 {
				return 0, fmt.Errorf("%w: window %d: VCD_TARGET: %w", ErrInvalidInput, d.windows, vcdiff.ErrUnsupported)
			}
			d.wh = vcdiff.WindowHeader{Indicator: ind}
			if ind&vcdiff.WinSource != 0 {
				if s.src == nil {
					return 0, invalidInput("window %d copies from a source, and the stream has none", d.windows)
				}
				d.phase = decodeSourceLen
			} else {
				d.phase = decodeDeltaLen
			}

		case decodeSourceLen:
			v, ok, err := d.integer(vcdiff.MaxSourceOffset)
			if err != nil || !ok {
				return NeedInput, err
			}
			d.wh.SourceLen = v
			d.phase = decodeSourcePos

		case decodeSourcePos:
			v, ok, err := d.integer(vcdiff.MaxSourceOffset)
			if err != nil || !ok {
				return NeedInput, err
			}
			d.wh.SourcePos = v
			end := v + d.wh.SourceLen
			if end > vcdiff.MaxSourceOffset {
				return 0, invalidInput("window %d: source segment overflows", d.windows)
			}
			if d.wh.SourceLen > 0 && s.src.pastEnd(int64(end)-1) {
				return 0, invalidInput("window %d: source segment [%d,%d) is beyond the end of the source", d.windows, v, end)
			}
			d.phase = decodeDeltaLen

		case decodeDeltaLen:
			v, ok, err := d.integer(vcdiff.MaxSourceOffset)
			if err != nil || !ok {
				return NeedInput, err
			}
			if limit := d.sectionLimit(); v > uint64(limit) {
				return 0, fmt.Errorf("%w: window %d has a %d-byte delta encoding, the limit is %d", ErrResource, d.windows, v, limit)
			}
			d.encLen = int(v)
			d.enc = d.enc[:0]
			d.phase = decodeDelta

		case decodeDelta:
			d.enc = append(d.enc, s.take(d.encLen-len(d.enc))...)
			if len(d.enc) < d.encLen {
				if s.flush {
					return 0, invalidInput("window %d is truncated", d.windows)
				}
				return NeedInput, nil
			}
			if err := d.startWindow(); err != nil {
				return 0, err
			}
			return WindowStart, nil

		case decodeApply:
			return d.apply()

		case decodeFinish:
			return d.finishWindow(), nil
		}
	}
}

// integer reads a window header integer that may be split across inputs.
// It returns ok == false if more input is needed.
func (d *decoder) integer(max uint64) (v uint64, ok bool, err error) {
	s := d.s
	n, done, err := d.num.Feed(s.in, max)
	s.in = s.in[n:]
	if err != nil {
		return 0, false, fmt.Errorf("%w: window %d header: %v", ErrInvalidInput, d.windows, err)
	}
	if !done {
		if s.flush {
			return 0, false, invalidInput("window %d header is truncated", d.windows)
		}
		return 0, false, nil
	}
	return d.num.Value(), true, nil
}

// sectionLimit bounds the delta encoding of a window.
func (d *decoder) sectionLimit() int {
	return 10*d.s.cfg.MaxWindowSize + 64
}

// decompressedLimit bounds section i of a window that produces targetLen
// bytes. Every data byte yields at least one target byte; an instruction or
// address takes at most a few integers per target byte.
func (d *decoder) decompressedLimit(i int, targetLen uint64) int {
	if i == 0 {
		return int(targetLen)
	}
	return min(d.sectionLimit(), 16*int(targetLen)+64)
}

func (d *decoder) readHeader() (State, error) {
	s := d.s
	chunk := s.in
	d.hdr = append(d.hdr, chunk...)
	fh, n, err := vcdiff.ParseFileHeader(d.hdr)
	switch {
	case errors.Is(err, vcdiff.ErrShortInput):
		s.in = nil
		if s.flush {
			return 0, invalidInput("file header is truncated")
		}
		if len(d.hdr) > maxHeaderLen {
			return 0, fmt.Errorf("%w: file header longer than %d bytes", ErrResource, maxHeaderLen)
		}
		return NeedInput, nil
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// The previous parse came up short, so everything after the header is
	// from the current chunk.
	rest := len(d.hdr) - n
	s.in = chunk[len(chunk)-rest:]

	if fh.Indicator&vcdiff.HdrSecondary != 0 {
		d.sec = secondary.ByID(fh.SecondaryID)
		if d.sec == nil {
			return 0, fmt.Errorf("%w: secondary compressor %s: %w", ErrInvalidInput, secondary.DescribeID(fh.SecondaryID), vcdiff.ErrUnsupported)
		}
	}
	d.table = vcdiff.DefaultCodeTable()
	if fh.CodeTable != nil {
		d.table, err = vcdiff.ParseCodeTable(fh.CodeTable)
		if err != nil {
			return 0, fmt.Errorf("%w: code table: %v", ErrInvalidInput, err)
		}
	}
	if fh.AppHeader != nil {
		s.appHeader = append([]byte(nil), fh.AppHeader...)
	}
	d.hdr = nil

	debugf("xdelta: header indicator %#02x, app header %q", fh.Indicator, s.appHeader)
	if s.cfg.Flags&FlagJustHeader != 0 {
		d.phase = decodeJustHeader
	} else {
		d.phase = decodeIndicator
	}
	return GotHeader, nil
}

var sectionBits = [3]byte{vcdiff.DataCompressed, vcdiff.InstCompressed, vcdiff.AddrCompressed}

func (d *decoder) startWindow() error {
	s := d.s
	wh, data, inst, addr, err := vcdiff.ParseDelta(d.enc, d.wh, uint64(s.cfg.MaxWindowSize))
	if err != nil {
		return fmt.Errorf("%w: window %d: %v", ErrInvalidInput, d.windows, err)
	}
	d.wh = wh

	if wh.DeltaIndicator != 0 {
		if d.sec == nil {
			return invalidInput("window %d has compressed sections and no secondary compressor", d.windows)
		}
		sections := [3][]byte{data, inst, addr}
		for i, bit := range sectionBits {
			if wh.DeltaIndicator&bit == 0 {
				continue
			}
			sections[i], err = secondary.ReadSection(d.sec, sections[i], d.decompressedLimit(i, wh.TargetLen))
			if err != nil {
				return fmt.Errorf("%w: window %d: %w", ErrInvalidInput, d.windows, err)
			}
		}
		data, inst, addr = sections[0], sections[1], sections[2]
	}

	d.r.Reset(d.table, wh.SourceLen, wh.TargetLen, data, inst, addr)
	d.haveInst = false
	if cap(d.target) < int(wh.TargetLen) {
		d.target = make([]byte, 0, wh.TargetLen)
	}
	d.target = d.target[:0]

	s.win = WindowInfo{
		Index:        d.windows,
		TargetOffset: d.offset,
		TargetLen:    int(wh.TargetLen),
		HasSource:    wh.Indicator&vcdiff.WinSource != 0,
		SourcePos:    int64(wh.SourcePos),
		SourceLen:    int64(wh.SourceLen),
		HasChecksum:  wh.HasChecksum(),
		Checksum:     wh.Checksum,
	}
	debugf("xdelta: window %d: target [%d,%d) source %d@%d", d.windows, d.offset, d.offset+int64(wh.TargetLen), wh.SourceLen, wh.SourcePos)

	if s.cfg.Flags&FlagSkipWindow != 0 {
		d.phase = decodeFinish
	} else {
		d.phase = decodeApply
	}
	return nil
}

// apply executes the window's instructions. It can stop in the middle of a
// COPY to wait for a source block.
func (d *decoder) apply() (State, error) {
	s := d.s
	for {
		if !d.haveInst {
			inst, err := d.r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("%w: window %d: %v", ErrInvalidInput, d.windows, err)
			}
			d.inst = inst
			d.copied = 0
			d.haveInst = true
		}

		switch d.inst.Type {
		case vcdiff.Add:
			d.target = append(d.target, d.inst.Data...)
		case vcdiff.Run:
			for i := 0; i < d.inst.Size; i++ {
				d.target = append(d.target, d.inst.Byte)
			}
		case vcdiff.Copy:
			if d.inst.Addr >= d.wh.SourceLen {
				d.target = appendCopy(d.target, int(d.inst.Addr-d.wh.SourceLen), d.inst.Size)
				break
			}
			ok, err := d.copySource()
			if err != nil {
				return 0, err
			}
			if !ok {
				return NeedSourceBlock, nil
			}
		}
		d.haveInst = false
	}

	if d.wh.HasChecksum() && s.cfg.Flags&FlagAdler32NoVerify == 0 {
		if sum := vcdiff.Checksum(d.wh.Indicator, d.target); sum != d.wh.Checksum {
			return 0, fmt.Errorf("%w: window %d: computed %08x, delta has %08x", ErrChecksum, d.windows, sum, d.wh.Checksum)
		}
	}
	if s.cfg.Flags&FlagSkipEmit != 0 {
		return d.finishWindow(), nil
	}
	s.out = d.target
	d.phase = decodeFinish
	return HaveOutput, nil
}

// copySource continues the current COPY from the source. It returns false
// if it needs a block that is not resident.
func (d *decoder) copySource() (bool, error) {
	s := d.s
	for d.copied < d.inst.Size {
		off := int64(d.wh.SourcePos+d.inst.Addr) + int64(d.copied)
		if s.src.pastEnd(off) {
			return false, invalidInput("window %d copies from source offset %d, beyond the end of the source", d.windows, off)
		}
		blkno, i := s.src.split(off)
		data, ok, err := s.sourceBlock(blkno)
		if err != nil || !ok {
			return false, err
		}
		if i >= len(data) {
			return false, invalidInput("window %d copies from source offset %d, beyond the end of the source", d.windows, off)
		}
		n := min(d.inst.Size-d.copied, len(data)-i)
		d.target = append(d.target, data[i:i+n]...)
		d.copied += n
	}
	return true, nil
}

func (d *decoder) finishWindow() State {
	d.windows++
	d.offset += int64(d.wh.TargetLen)
	d.phase = decodeIndicator
	return WindowFinish
}

// appendCopy appends n bytes to b, starting from b[from]. The bytes being
// copied may overlap the bytes being appended, which repeats them.
func appendCopy(b []byte, from, n int) []byte {
	for n > 0 {
		k := min(n, len(b)-from)
		b = append(b, b[from:from+k]...)
		from += k
		n -= k
	}
	return b
}
