package vcdiff

import (
	"encoding/binary"
	"fmt"
)

// A FileHeader is the header at the start of a delta file.
type FileHeader struct {
	Indicator byte

	// SecondaryID identifies the secondary compressor, if Indicator has
	// HdrSecondary set.
	SecondaryID byte

	// CodeTable is the raw code table data, if Indicator has HdrCodeTable
	// set. See CodeTable.AppendHeaderData and ParseCodeTable.
	CodeTable []byte

	// AppHeader is application-defined data, if Indicator has HdrAppHeader
	// set.
	AppHeader []byte
}

// AppendFileHeader appends the encoded form of h to dst. The indicator bits
// are derived from which fields are set.
func AppendFileHeader(dst []byte, h FileHeader) []byte {
	dst = append(dst, Magic...)
	ind := h.Indicator &^ (HdrCodeTable | HdrAppHeader)
	if h.CodeTable != nil {
		ind |= HdrCodeTable
	}
	if h.AppHeader != nil {
		ind |= HdrAppHeader
	}
	dst = append(dst, ind)
	if ind&HdrSecondary != 0 {
		dst = append(dst, h.SecondaryID)
	}
	if ind&HdrCodeTable != 0 {
		dst = AppendInteger(dst, uint64(len(h.CodeTable)))
		dst = append(dst, h.CodeTable...)
	}
	if ind&HdrAppHeader != 0 {
		dst = AppendInteger(dst, uint64(len(h.AppHeader)))
		dst = append(dst, h.AppHeader...)
	}
	return dst
}

// ParseFileHeader decodes a file header from the start of b, returning the
// header and its length. It returns ErrShortInput if b holds only part of
// the header.
func ParseFileHeader(b []byte) (FileHeader, int, error) {
	var h FileHeader
	if len(b) < len(Magic)+1 {
		for i := range b {
			if i < len(Magic) && b[i] != Magic[i] {
				return h, 0, ErrBadMagic
			}
		}
		return h, 0, ErrShortInput
	}
	for i, c := range Magic {
		if b[i] != c {
			return h, 0, ErrBadMagic
		}
	}
	h.Indicator = b[len(Magic)]
	if h.Indicator&^(HdrSecondary|HdrCodeTable|HdrAppHeader) != 0 {
		return h, 0, fmt.Errorf("%w: header indicator %#02x", ErrInvalid, h.Indicator)
	}
	pos := len(Magic) + 1
	if h.Indicator&HdrSecondary != 0 {
		if pos >= len(b) {
			return h, 0, ErrShortInput
		}
		h.SecondaryID = b[pos]
		pos++
	}
	field := func() ([]byte, error) {
		n, k, err := ReadInteger(b[pos:], HardMaxWindowSize)
		if err != nil {
			return nil, err
		}
		if uint64(len(b)-pos-k) < n {
			return nil, ErrShortInput
		}
		data := b[pos+k : pos+k+int(n)]
		pos += k + int(n)
		return data, nil
	}
	if h.Indicator&HdrCodeTable != 0 {
		data, err := field()
		if err != nil {
			return h, 0, err
		}
		h.CodeTable = data
	}
	if h.Indicator&HdrAppHeader != 0 {
		data, err := field()
		if err != nil {
			return h, 0, err
		}
		h.AppHeader = data
	}
	return h, pos, nil
}

// A WindowHeader holds the fixed fields of a window.
type WindowHeader struct {
	Indicator byte

	// The source segment, if Indicator has WinSource or WinTarget set.
	SourceLen uint64
	SourcePos uint64

	TargetLen      uint64
	DeltaIndicator byte

	DataLen uint64
	InstLen uint64
	AddrLen uint64

	// Checksum is present if Indicator has WinAdler32 or WinXXH32 set.
	Checksum uint32
}

// HasChecksum reports whether the window carries a checksum of its target
// data.
func (h WindowHeader) HasChecksum() bool {
	return h.Indicator&(WinAdler32|WinXXH32) != 0
}

// AppendWindow appends a complete window to dst. The section lengths in h
// are ignored and taken from the slices instead.
func AppendWindow(dst []byte, h WindowHeader, data, inst, addr []byte) []byte {
	h.DataLen = uint64(len(data))
	h.InstLen = uint64(len(inst))
	h.AddrLen = uint64(len(addr))

	dst = append(dst, h.Indicator)
	if h.Indicator&(WinSource|WinTarget) != 0 {
		dst = AppendInteger(dst, h.SourceLen)
		dst = AppendInteger(dst, h.SourcePos)
	}

	encLen := IntegerLen(h.TargetLen) + 1 +
		IntegerLen(h.DataLen) + IntegerLen(h.InstLen) + IntegerLen(h.AddrLen) +
		len(data) + len(inst) + len(addr)
	if h.HasChecksum() {
		encLen += 4
	}
	dst = AppendInteger(dst, uint64(encLen))
	dst = AppendInteger(dst, h.TargetLen)
	dst = append(dst, h.DeltaIndicator)
	dst = AppendInteger(dst, h.DataLen)
	dst = AppendInteger(dst, h.InstLen)
	dst = AppendInteger(dst, h.AddrLen)
	if h.HasChecksum() {
		dst = binary.BigEndian.AppendUint32(dst, h.Checksum)
	}
	dst = append(dst, data...)
	dst = append(dst, inst...)
	dst = append(dst, addr...)
	return dst
}

// ParseDelta decodes the delta encoding of a window (everything after the
// "length of the delta encoding" field). The indicator comes from the start
// of the window. maxWindow bounds the target length. The returned sections
// alias enc.
func ParseDelta(enc []byte, h WindowHeader, maxWindow uint64) (WindowHeader, []byte, []byte, []byte, error) {
	var err error
	var n int
	pos := 0
	next := func(max uint64) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, n, err = ReadInteger(enc[pos:], max)
		pos += n
		return v
	}

	h.TargetLen = next(maxWindow)
	if err == nil {
		if pos >= len(enc) {
			err = ErrShortInput
		} else {
			h.DeltaIndicator = enc[pos]
			pos++
		}
	}
	limit := uint64(len(enc))
	h.DataLen = next(limit)
	h.InstLen = next(limit)
	h.AddrLen = next(limit)
	if err != nil {
		return h, nil, nil, nil, fmt.Errorf("%w: window header: %v", ErrInvalid, err)
	}
	if h.DeltaIndicator&^(DataCompressed|InstCompressed|AddrCompressed) != 0 {
		return h, nil, nil, nil, fmt.Errorf("%w: delta indicator %#02x", ErrInvalid, h.DeltaIndicator)
	}
	if h.HasChecksum() {
		if len(enc)-pos < 4 {
			return h, nil, nil, nil, fmt.Errorf("%w: window checksum truncated", ErrInvalid)
		}
		h.Checksum = binary.BigEndian.Uint32(enc[pos:])
		pos += 4
	}
	if uint64(len(enc)-pos) != h.DataLen+h.InstLen+h.AddrLen {
		return h, nil, nil, nil, fmt.Errorf("%w: section lengths %d+%d+%d do not match delta encoding length", ErrInvalid, h.DataLen, h.InstLen, h.AddrLen)
	}
	data := enc[pos : pos+int(h.DataLen)]
	pos += int(h.DataLen)
	inst := enc[pos : pos+int(h.InstLen)]
	pos += int(h.InstLen)
	addr := enc[pos:]
	return h, data, inst, addr, nil
}
