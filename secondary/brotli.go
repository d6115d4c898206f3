package secondary

import (
	"bytes"

	"github.com/andybalholm/brotli"
)

type brotliCompressor struct{}

func (brotliCompressor) Name() string { return "brotli" }
func (brotliCompressor) ID() byte     { return IDBrotli }

func (brotliCompressor) Compress(dst, src []byte) ([]byte, error) {
	b := bytes.NewBuffer(dst)
	w := brotli.NewWriterLevel(b, 9)
	if _, err := w.Write(src); err != nil {
		return dst, err
	}
	if err := w.Close(); err != nil {
		return dst, err
	}
	return b.Bytes(), nil
}

func (brotliCompressor) Decompress(dst, src []byte, size int) ([]byte, error) {
	return readAllLimited(dst, brotli.NewReader(bytes.NewReader(src)), size)
}
