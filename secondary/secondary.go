// Package secondary provides the compressors that can be applied to the
// data, instruction and address sections of a delta window after the
// instructions have been encoded.
//
// Each compressor wraps a third-party library. A compressed section is
// stored as its uncompressed length (an RFC 3284 integer) followed by the
// compressor's output. A section that does not get smaller is stored as is,
// so a compressor is never required to decode a delta that named it.
package secondary

import (
	"errors"
	"fmt"
	"sort"

	"github.com/andybalholm/xdelta/vcdiff"
)

// A Compressor compresses and decompresses window sections.
// Implementations must be safe for concurrent use.
type Compressor interface {
	// Name is the name used to select the compressor in configuration.
	Name() string

	// ID is the secondary compressor ID written in the file header.
	ID() byte

	// Compress appends the compressed form of src to dst.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress appends the decompressed form of src to dst. It fails if
	// the result is not exactly size bytes long.
	Decompress(dst, src []byte, size int) ([]byte, error)
}

// Secondary compressor IDs. The first three are the ones xdelta3 assigns to
// its own compressors, which are recognized but not implemented here.
const (
	IDDJW  = 1
	IDLZMA = 2
	IDFGK  = 16

	IDZstd   = 0x20
	IDS2     = 0x21
	IDFlate  = 0x22
	IDSnappy = 0x23
	IDLZ4    = 0x24
	IDBrotli = 0x25
)

var (
	// ErrIncompressible is returned by Compress when its output would not
	// be smaller than its input.
	ErrIncompressible = errors.New("secondary: incompressible input")

	// ErrCorrupt is returned by Decompress when the input is damaged.
	ErrCorrupt = errors.New("secondary: corrupt input")
)

var registry = []Compressor{
	zstdCompressor{},
	s2Compressor{},
	flateCompressor{},
	snappyCompressor{},
	lz4Compressor{},
	brotliCompressor{},
}

// ByName returns the compressor with the given name, or nil.
func ByName(name string) Compressor {
	for _, c := range registry {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ByID returns the compressor with the given header ID, or nil.
func ByID(id byte) Compressor {
	for _, c := range registry {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Names returns the names of all available compressors, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, c := range registry {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// DescribeID returns a name for a secondary compressor ID, including the
// xdelta3 ones this package cannot decode.
func DescribeID(id byte) string {
	switch id {
	case IDDJW:
		return "djw"
	case IDLZMA:
		return "lzma"
	case IDFGK:
		return "fgk"
	}
	if c := ByID(id); c != nil {
		return c.Name()
	}
	return fmt.Sprintf("unknown (%d)", id)
}

// AppendSection appends src to dst, compressed with c if that makes it
// smaller. It reports whether the section was compressed.
func AppendSection(dst []byte, c Compressor, src []byte) ([]byte, bool) {
	if len(src) == 0 {
		return dst, false
	}
	start := len(dst)
	dst = vcdiff.AppendInteger(dst, uint64(len(src)))
	out, err := c.Compress(dst, src)
	if err != nil || len(out)-start >= len(src) {
		return append(dst[:start], src...), false
	}
	return out, true
}

// ReadSection decompresses a section written by AppendSection. max bounds
// the uncompressed size.
func ReadSection(c Compressor, src []byte, max int) ([]byte, error) {
	size, n, err := vcdiff.ReadInteger(src, uint64(max))
	if err != nil {
		return nil, fmt.Errorf("%w: section length: %w", ErrCorrupt, err)
	}
	out, err := c.Decompress(make([]byte, 0, size), src[n:], int(size))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return out, nil
}

func checkSize(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrCorrupt, got, want)
	}
	return nil
}
