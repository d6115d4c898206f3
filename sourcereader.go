package xdelta

import (
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheBlocks is the number of source blocks a SourceReader keeps in
// memory by default.
const DefaultCacheBlocks = 32

// A SourceReader answers a Source's block requests by reading from an
// io.ReaderAt. Recently used blocks are kept in an LRU cache, since the
// encoder often goes back to a block it has just given up.
type SourceReader struct {
	r         io.ReaderAt
	blockSize int
	cache     *lru.Cache[int64, []byte]
	reads     int
}

// NewSourceReader returns a SourceReader that reads blockSize-byte blocks
// from r and caches up to cacheBlocks of them.
func NewSourceReader(r io.ReaderAt, blockSize, cacheBlocks int) (*SourceReader, error) {
	if err := (SourceConfig{BlockSize: blockSize}).Validate(); err != nil {
		return nil, err
	}
	if cacheBlocks <= 0 {
		cacheBlocks = DefaultCacheBlocks
	}
	cache, err := lru.New[int64, []byte](cacheBlocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &SourceReader{r: r, blockSize: blockSize, cache: cache}, nil
}

// Block returns block blkno. Only the last block is shorter than the block
// size. The returned slice is never modified afterward.
func (r *SourceReader) Block(blkno int64) ([]byte, error) {
	if b, ok := r.cache.Get(blkno); ok {
		return b, nil
	}
	buf := make([]byte, r.blockSize)
	n, err := r.r.ReadAt(buf, blkno*int64(r.blockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("xdelta: reading source block %d: %w", blkno, err)
	}
	r.reads++
	buf = buf[:n]
	r.cache.Add(blkno, buf)
	return buf, nil
}

// Supply reads the block src has requested and supplies it.
func (r *SourceReader) Supply(src *Source) error {
	if src.BlockSize() != r.blockSize {
		return protocolError("source block size %d does not match reader block size %d", src.BlockSize(), r.blockSize)
	}
	blkno := src.RequestedBlock()
	b, err := r.Block(blkno)
	if err != nil {
		return err
	}
	return src.Supply(blkno, b)
}

// Reads returns the number of blocks read from the underlying ReaderAt.
func (r *SourceReader) Reads() int { return r.reads }
