package xdelta

import "math/bits"

// A Source holds the source data a Stream compares its target against. It
// does not read anything itself: the Stream asks for a block by returning
// NeedSourceBlock, and the caller answers with Supply.
//
// Only one block is resident at a time. The slice given to Supply is
// borrowed, not copied, and must stay unchanged until the Stream requests
// another block or finishes.
type Source struct {
	blockSize int64
	shift     uint
	maxWindow int64

	// size is the length of the source, or -1 if it is not known yet.
	size int64

	blkno int64 // resident block, or -1
	data  []byte
	have  bool

	// gen counts requests. A resident block is only visible to the
	// engine if it was supplied during the current generation.
	gen     uint64
	dataGen uint64

	requested int64
	awaiting  bool

	stream *Stream
}

// NewSource returns a Source with the given configuration.
func NewSource(cfg SourceConfig) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Source{
		blockSize: int64(cfg.BlockSize),
		shift:     uint(bits.TrailingZeros(uint(cfg.BlockSize))),
		maxWindow: cfg.MaxWindow,
		size:      -1,
		blkno:     -1,
	}
	if cfg.Size > 0 {
		s.size = cfg.Size
	}
	return s, nil
}

// BlockSize returns the size of a source block.
func (s *Source) BlockSize() int { return int(s.blockSize) }

// RequestedBlock returns the number of the block the Stream most recently
// asked for. It is 0 before the first request.
func (s *Source) RequestedBlock() int64 { return s.requested }

// CurrentBlock returns the number of the resident block, or -1.
func (s *Source) CurrentBlock() int64 {
	if !s.have {
		return -1
	}
	return s.blkno
}

// Size returns the length of the source, if it is known. It becomes known
// when a short block is supplied.
func (s *Source) Size() (int64, bool) {
	return s.size, s.size >= 0
}

// Supply makes data the resident contents of block blkno. Every block but
// the last must be exactly BlockSize bytes long; a shorter block marks the
// end of the source.
//
// Supplying a block other than the requested one is allowed, but does not
// tell the Source its size. If the Stream then still cannot make progress,
// its next Step fails.
func (s *Source) Supply(blkno int64, data []byte) error {
	if blkno < 0 {
		return protocolError("negative source block number %d", blkno)
	}
	if int64(len(data)) > s.blockSize {
		return protocolError("source block %d is %d bytes, the block size is %d", blkno, len(data), s.blockSize)
	}
	s.blkno = blkno
	s.data = data
	s.have = true
	s.dataGen = s.gen
	s.awaiting = false
	if blkno == s.requested && int64(len(data)) < s.blockSize {
		end := blkno<<s.shift + int64(len(data))
		if s.size < 0 || end < s.size {
			s.size = end
		}
	}
	if debug {
		debugf("source: supplied block %d (%d bytes)", blkno, len(data))
	}
	return nil
}

// request asks for block blkno and drops the resident block.
func (s *Source) request(blkno int64) {
	s.gen++
	s.requested = blkno
	s.awaiting = true
	s.have = false
	s.data = nil
	s.blkno = -1
}

// block returns block blkno if it is resident.
func (s *Source) block(blkno int64) ([]byte, bool) {
	if !s.have || s.blkno != blkno || s.dataGen != s.gen {
		return nil, false
	}
	return s.data, true
}

// split returns the block number and the offset within the block of the
// source position off.
func (s *Source) split(off int64) (int64, int) {
	return off >> s.shift, int(off & (s.blockSize - 1))
}

// pastEnd reports whether off is known to be beyond the end of the source.
func (s *Source) pastEnd(off int64) bool {
	return s.size >= 0 && off >= s.size
}

// reset forgets the resident block, for a Source being reused.
func (s *Source) reset() {
	s.blkno = -1
	s.data = nil
	s.have = false
	s.awaiting = false
	s.requested = 0
}
