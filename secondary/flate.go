package secondary

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

type flateCompressor struct{}

func (flateCompressor) Name() string { return "flate" }
func (flateCompressor) ID() byte     { return IDFlate }

func (flateCompressor) Compress(dst, src []byte) ([]byte, error) {
	b := bytes.NewBuffer(dst)
	w, err := flate.NewWriter(b, flate.BestCompression)
	if err != nil {
		return dst, err
	}
	if _, err := w.Write(src); err != nil {
		return dst, err
	}
	if err := w.Close(); err != nil {
		return dst, err
	}
	return b.Bytes(), nil
}

func (flateCompressor) Decompress(dst, src []byte, size int) ([]byte, error) {
	return readAllLimited(dst, flate.NewReader(bytes.NewReader(src)), size)
}

// readAllLimited appends exactly size bytes from r to dst, failing if r
// holds more or less than that.
func readAllLimited(dst []byte, r io.Reader, size int) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	if _, err := io.ReadFull(r, dst[start:]); err != nil {
		return dst[:start], err
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return dst[:start], checkSize(size+n, size)
	}
	return dst, nil
}
