// Package vcdiff implements the binary delta format of RFC 3284 together with
// the extensions used by xdelta3: the application header and the per-window
// Adler-32 checksum.
//
// The package deals only in byte slices. It knows how to lay out file
// headers, window headers and the three sections of a window (data,
// instructions and addresses), and how to turn instructions into opcodes of a
// code table and back. Deciding what instructions to emit, and fetching
// source data, is left to the caller.
package vcdiff

import "errors"

// Magic is the first four bytes of every VCDIFF file (the last byte is the
// format version).
var Magic = []byte{0xd6, 0xc3, 0xc4, 0x00}

// Header indicator bits.
const (
	HdrSecondary = 0x01 // VCD_DECOMPRESS: a secondary compressor ID follows
	HdrCodeTable = 0x02 // VCD_CODETABLE: an application-defined code table follows
	HdrAppHeader = 0x04 // VCD_APPHEADER: application data follows (xdelta3)
)

// Window indicator bits.
const (
	WinSource  = 0x01 // VCD_SOURCE: the source segment comes from the source file
	WinTarget  = 0x02 // VCD_TARGET: the source segment comes from earlier target data
	WinAdler32 = 0x04 // VCD_ADLER32: an Adler-32 checksum of the target window follows (xdelta3)
	WinXXH32   = 0x08 // an xxHash32 checksum of the target window follows
)

// Delta indicator bits, marking sections that went through the secondary
// compressor.
const (
	DataCompressed = 0x01
	InstCompressed = 0x02
	AddrCompressed = 0x04
)

// Instruction types, as used in code tables.
const (
	NoOp = 0
	Add  = 1
	Run  = 2
	Copy = 3
)

const (
	// HardMaxWindowSize is the largest target window a decoder will accept
	// unless it is configured for something smaller.
	HardMaxWindowSize = 1 << 24

	// MaxSourceOffset bounds source positions and lengths.
	MaxSourceOffset = 1<<62 - 1
)

var (
	// ErrShortInput means that a buffer ended in the middle of a field.
	ErrShortInput = errors.New("vcdiff: unexpected end of input")

	// ErrOverflow means that an integer was too large to be valid where it
	// appeared.
	ErrOverflow = errors.New("vcdiff: integer overflow")

	// ErrBadMagic means that the input is not a VCDIFF file.
	ErrBadMagic = errors.New("vcdiff: bad magic number")

	// ErrInvalid means that the input is not a well-formed delta.
	ErrInvalid = errors.New("vcdiff: invalid input")

	// ErrUnsupported means that the input uses a feature this package does
	// not implement.
	ErrUnsupported = errors.New("vcdiff: unsupported feature")
)
