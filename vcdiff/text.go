package vcdiff

import (
	"fmt"
	"strconv"
)

// Dump appends a human-readable listing of a delta file to dst, in the
// spirit of xdelta3's printdelta command. Literal data is shown quoted;
// copies are shown as <Size,Addr> along with their address mode.
func Dump(dst []byte, delta []byte) ([]byte, error) {
	fh, table, windows, err := ReadWindows(delta)
	if err != nil {
		return dst, err
	}

	dst = fmt.Appendf(dst, "VCDIFF header indicator: %#02x\n", fh.Indicator)
	if fh.CodeTable != nil {
		dst = fmt.Appendf(dst, "VCDIFF code table: near %d same %d\n", table.NearSize, table.SameSize)
	}
	if fh.AppHeader != nil {
		dst = append(dst, "VCDIFF application header: "...)
		dst = strconv.AppendQuote(dst, string(fh.AppHeader))
		dst = append(dst, '\n')
	}

	for i, w := range windows {
		h := w.Header
		dst = fmt.Appendf(dst, "window %d: target [%d,%d)", i, w.TargetOffset, w.TargetOffset+h.TargetLen)
		switch {
		case h.Indicator&WinSource != 0:
			dst = fmt.Appendf(dst, " source [%d,%d)", h.SourcePos, h.SourcePos+h.SourceLen)
		case h.Indicator&WinTarget != 0:
			dst = fmt.Appendf(dst, " target segment [%d,%d)", h.SourcePos, h.SourcePos+h.SourceLen)
		}
		switch {
		case h.Indicator&WinAdler32 != 0:
			dst = fmt.Appendf(dst, " adler32 %08x", h.Checksum)
		case h.Indicator&WinXXH32 != 0:
			dst = fmt.Appendf(dst, " xxh32 %08x", h.Checksum)
		}
		dst = fmt.Appendf(dst, " sections %d/%d/%d\n", h.DataLen, h.InstLen, h.AddrLen)

		pos := w.TargetOffset
		for _, inst := range w.Instructions {
			dst = fmt.Appendf(dst, "  %06d ", pos)
			switch inst.Type {
			case Add:
				dst = append(dst, "ADD "...)
				dst = strconv.AppendQuote(dst, string(inst.Data))
			case Run:
				dst = fmt.Appendf(dst, "RUN %d×%#02x", inst.Size, inst.Byte)
			case Copy:
				where := "S"
				if inst.Addr >= h.SourceLen {
					where = "T"
				}
				dst = fmt.Appendf(dst, "<%d,%s%d> mode %d", inst.Size, where, inst.Addr, inst.Mode)
			}
			dst = append(dst, '\n')
			pos += uint64(inst.Size)
		}
	}
	return dst, nil
}
