package secondary

import "github.com/pierrec/lz4/v4"

// lz4Compressor uses the LZ4 block format; the section framing already
// records the uncompressed length.
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }
func (lz4Compressor) ID() byte     { return IDLZ4 }

func (lz4Compressor) Compress(dst, src []byte) ([]byte, error) {
	c := &lz4.CompressorHC{Level: lz4.Level9}
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := c.CompressBlock(src, buf)
	if err != nil {
		return dst, err
	}
	if n == 0 {
		return dst, ErrIncompressible
	}
	return append(dst, buf[:n]...), nil
}

func (lz4Compressor) Decompress(dst, src []byte, size int) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	n, err := lz4.UncompressBlock(src, dst[start:])
	if err == nil {
		err = checkSize(n, size)
	}
	if err != nil {
		return dst[:start], err
	}
	return dst, nil
}
