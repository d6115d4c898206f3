package secondary

import (
	"sync"

	"github.com/andybalholm/xdelta/vcdiff"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// EncodeAll and DecodeAll may be called concurrently, so a single encoder
// and decoder serve every stream.
func initZstd() {
	zstdEncoder, zstdErr = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1))
	if zstdErr != nil {
		return
	}
	zstdDecoder, zstdErr = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(2*vcdiff.HardMaxWindowSize))
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "zstd" }
func (zstdCompressor) ID() byte     { return IDZstd }

func (zstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return dst, zstdErr
	}
	return zstdEncoder.EncodeAll(src, dst), nil
}

func (zstdCompressor) Decompress(dst, src []byte, size int) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return dst, zstdErr
	}
	start := len(dst)
	out, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return dst, err
	}
	return out, checkSize(len(out)-start, size)
}
