package vcdiff

import (
	"errors"
	"fmt"
	"io"
)

// CheckWindowIndicator returns an error if ind is not a valid window
// indicator byte.
func CheckWindowIndicator(ind byte) error {
	switch {
	case ind&^(WinSource|WinTarget|WinAdler32|WinXXH32) != 0:
		return fmt.Errorf("%w: window indicator %#02x", ErrInvalid, ind)
	case ind&WinSource != 0 && ind&WinTarget != 0:
		return fmt.Errorf("%w: window has both VCD_SOURCE and VCD_TARGET", ErrInvalid)
	case ind&WinAdler32 != 0 && ind&WinXXH32 != 0:
		return fmt.Errorf("%w: window has two checksums", ErrInvalid)
	}
	return nil
}

// A Window is a parsed window, for inspection.
type Window struct {
	Header WindowHeader

	// TargetOffset is the position of the window's first byte in the
	// target file.
	TargetOffset uint64

	Instructions []Instruction
}

// rawWindow is a window with its sections still encoded.
type rawWindow struct {
	header           WindowHeader
	data, inst, addr []byte
}

// readFile walks a complete in-memory delta file, calling fn for each
// window. Secondary compression is not supported.
func readFile(delta []byte, allowCodeTable bool, fn func(table *CodeTable, w rawWindow) error) (FileHeader, error) {
	fh, pos, err := ParseFileHeader(delta)
	if err != nil {
		if errors.Is(err, ErrShortInput) {
			return fh, fmt.Errorf("%w: truncated file header", ErrInvalid)
		}
		return fh, err
	}
	if fh.Indicator&HdrSecondary != 0 {
		return fh, fmt.Errorf("%w: secondary compressor %d", ErrUnsupported, fh.SecondaryID)
	}
	table := defaultTable
	if fh.CodeTable != nil {
		if !allowCodeTable {
			return fh, fmt.Errorf("%w: nested code table", ErrInvalid)
		}
		table, err = ParseCodeTable(fh.CodeTable)
		if err != nil {
			return fh, err
		}
	}

	for pos < len(delta) {
		h := WindowHeader{Indicator: delta[pos]}
		pos++
		if err := CheckWindowIndicator(h.Indicator); err != nil {
			return fh, err
		}
		next := func(max uint64) (uint64, error) {
			v, n, err := ReadInteger(delta[pos:], max)
			if err != nil {
				return 0, fmt.Errorf("%w: window header: %v", ErrInvalid, err)
			}
			pos += n
			return v, nil
		}
		if h.Indicator&(WinSource|WinTarget) != 0 {
			if h.SourceLen, err = next(MaxSourceOffset); err != nil {
				return fh, err
			}
			if h.SourcePos, err = next(MaxSourceOffset - h.SourceLen); err != nil {
				return fh, err
			}
		}
		encLen, err := next(uint64(len(delta) - pos))
		if err != nil {
			return fh, err
		}
		enc := delta[pos : pos+int(encLen)]
		pos += int(encLen)

		h, data, inst, addr, err := ParseDelta(enc, h, HardMaxWindowSize)
		if err != nil {
			return fh, err
		}
		if h.DeltaIndicator != 0 {
			return fh, fmt.Errorf("%w: compressed sections", ErrUnsupported)
		}
		if err := fn(table, rawWindow{h, data, inst, addr}); err != nil {
			return fh, err
		}
	}
	return fh, nil
}

// DecodeAll decodes a complete delta file held in memory, using source as
// the source file. It does not support secondary compression.
func DecodeAll(delta, source []byte) ([]byte, error) {
	return decodeAll(delta, source, true)
}

func decodeAll(delta, source []byte, allowCodeTable bool) ([]byte, error) {
	var out []byte
	var r InstructionReader
	_, err := readFile(delta, allowCodeTable, func(table *CodeTable, w rawWindow) error {
		h := w.header
		var seg []byte
		switch {
		case h.Indicator&WinTarget != 0:
			if h.SourcePos+h.SourceLen > uint64(len(out)) {
				return fmt.Errorf("%w: target segment out of range", ErrInvalid)
			}
			seg = out[h.SourcePos : h.SourcePos+h.SourceLen]
		case h.Indicator&WinSource != 0:
			if h.SourcePos+h.SourceLen > uint64(len(source)) {
				return fmt.Errorf("%w: source segment out of range", ErrInvalid)
			}
			seg = source[h.SourcePos : h.SourcePos+h.SourceLen]
		}

		start := len(out)
		r.Reset(table, uint64(len(seg)), h.TargetLen, w.data, w.inst, w.addr)
		for {
			inst, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			switch inst.Type {
			case Add:
				out = append(out, inst.Data...)
			case Run:
				for i := 0; i < inst.Size; i++ {
					out = append(out, inst.Byte)
				}
			case Copy:
				if inst.Addr < uint64(len(seg)) {
					out = append(out, seg[inst.Addr:inst.Addr+uint64(inst.Size)]...)
					continue
				}
				// The copy may overlap the bytes it produces.
				from := start + int(inst.Addr-uint64(len(seg)))
				for i := 0; i < inst.Size; i++ {
					out = append(out, out[from+i])
				}
			}
		}
		if h.HasChecksum() && Checksum(h.Indicator, out[start:]) != h.Checksum {
			return fmt.Errorf("%w: window checksum mismatch", ErrInvalid)
		}
		return nil
	})
	return out, err
}

// ReadWindows parses a complete delta file held in memory and returns its
// header, code table and windows, without applying them.
func ReadWindows(delta []byte) (FileHeader, *CodeTable, []Window, error) {
	var windows []Window
	var table *CodeTable
	var offset uint64
	var r InstructionReader
	fh, err := readFile(delta, true, func(t *CodeTable, w rawWindow) error {
		table = t
		win := Window{Header: w.header, TargetOffset: offset}
		r.Reset(t, w.header.SourceLen, w.header.TargetLen, w.data, w.inst, w.addr)
		for {
			inst, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			win.Instructions = append(win.Instructions, inst)
		}
		windows = append(windows, win)
		offset += w.header.TargetLen
		return nil
	})
	if table == nil {
		table = defaultTable
	}
	return fh, table, windows, err
}
