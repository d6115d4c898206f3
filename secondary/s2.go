package secondary

import "github.com/klauspost/compress/s2"

type s2Compressor struct{}

func (s2Compressor) Name() string { return "s2" }
func (s2Compressor) ID() byte     { return IDS2 }

func (s2Compressor) Compress(dst, src []byte) ([]byte, error) {
	// s2 requires non-overlapping buffers, so encode into fresh memory.
	return append(dst, s2.EncodeBetter(nil, src)...), nil
}

func (s2Compressor) Decompress(dst, src []byte, size int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return dst, err
	}
	if err := checkSize(n, size); err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	if _, err := s2.Decode(dst[start:], src); err != nil {
		return dst[:start], err
	}
	return dst, nil
}
