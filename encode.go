package xdelta

import (
	"encoding/binary"

	"github.com/andybalholm/xdelta/secondary"
	"github.com/andybalholm/xdelta/vcdiff"
)

type encodePhase int

const (
	encodeFill encodePhase = iota
	encodeIndex
	encodeMatch
	encodeFinish
	encodeDone
)

type matchPhase int

const (
	matchSearch matchPhase = iota
	matchForward
	matchBackward
	matchDecide
)

// The shortest matches and runs the encoder uses.
const (
	minTargetMatch = 4
	minSourceMatch = srcHashLen
	minRun         = 8
)

// skipStart is the initial value of the skip counter: after 32 positions
// without a match, the encoder starts skipping ahead.
const skipStart = 32

type levelParams struct {
	chainLen int   // hash chain entries examined per position
	srcBits  uint  // log2 of the source index size
	srcStep  int64 // distance between indexed source positions
	skip     bool  // skip ahead through data that does not match
}

var levels = [10]levelParams{
	1: {chainLen: 1, srcBits: 16, srcStep: 4, skip: true},
	2: {chainLen: 2, srcBits: 16, srcStep: 4, skip: true},
	3: {chainLen: 4, srcBits: 17, srcStep: 2, skip: true},
	4: {chainLen: 8, srcBits: 18, srcStep: 2},
	5: {chainLen: 12, srcBits: 18, srcStep: 2},
	6: {chainLen: 16, srcBits: 19, srcStep: 1},
	7: {chainLen: 32, srcBits: 20, srcStep: 1},
	8: {chainLen: 64, srcBits: 20, srcStep: 1},
	9: {chainLen: 128, srcBits: 21, srcStep: 1},
}

// An encMatch is a run of literal bytes followed by a copy.
type encMatch struct {
	unmatched int
	length    int
	source    bool

	// addr is the source offset of a source copy, or the window offset of
	// a target copy.
	addr int64
}

// A srcCandidate is a source position that may match the target at the
// current position.
type srcCandidate struct {
	pos      int64
	verified int // bytes known to match
}

type srcMatch struct {
	start  int
	length int
	addr   int64
}

type encoder struct {
	s      *Stream
	phase  encodePhase
	params levelParams

	greedy    bool
	selfMatch bool

	table       *vcdiff.CodeTable
	wroteHeader bool

	window   []byte
	winStart int64
	windows  int

	idx   *sourceIndex
	chain hashChain

	// Match finding state, kept across source block requests.
	mphase   matchPhase
	pos      int
	nextEmit int
	skip     int
	tgt      absoluteMatch
	srcCands [3]srcCandidate
	ncand    int
	ci       int
	cand     int64
	fwd      int
	back     int
	best     srcMatch
	matches  []encMatch

	// The end of the last source copy, in the source and in the target.
	hasLast    bool
	lastSrcEnd int64
	lastTgtEnd int64

	iw       vcdiff.InstructionWriter
	sections [3][]byte
	out      []byte
}

func newEncoder(s *Stream) *encoder {
	flags := s.cfg.Flags
	e := &encoder{
		s:         s,
		params:    levels[s.cfg.Level],
		greedy:    flags&FlagBeGreedy != 0,
		selfMatch: flags&FlagNoCompress == 0,
		table:     vcdiff.DefaultCodeTable(),
		window:    make([]byte, 0, s.cfg.WindowSize),
	}
	if flags&FlagAltCodeTable != 0 {
		e.table = vcdiff.AlternateCodeTable()
	}
	e.chain.searchLen = e.params.chainLen
	return e
}

func (e *encoder) step() (State, error) {
	s := e.s
	for {
		switch e.phase {
		case encodeFill:
			e.window = append(e.window, s.take(s.cfg.WindowSize-len(e.window))...)
			if len(e.window) < s.cfg.WindowSize && !s.flush &&
				(s.cfg.Flags&FlagFlush == 0 || len(e.window) == 0) {
				return NeedInput, nil
			}
			if len(e.window) == 0 {
				e.phase = encodeDone
				if e.wroteHeader {
					return Done, nil
				}
				// An empty target still gets a file header.
				e.out = e.appendHeader(e.out[:0])
				s.out = e.out
				return HaveOutput, nil
			}
			e.startWindow()
			return WindowStart, nil

		case encodeIndex:
			ok, err := e.indexSource()
			if err != nil || !ok {
				return NeedSourceBlock, err
			}
			e.startMatching()
			e.phase = encodeMatch

		case encodeMatch:
			ok, err := e.findMatches()
			if err != nil || !ok {
				return NeedSourceBlock, err
			}
			e.emitWindow()
			e.phase = encodeFinish
			return HaveOutput, nil

		case encodeFinish:
			e.windows++
			e.winStart += int64(len(e.window))
			e.window = e.window[:0]
			e.phase = encodeFill
			return WindowFinish, nil

		case encodeDone:
			return Done, nil
		}
	}
}

func (e *encoder) startWindow() {
	s := e.s
	s.win = WindowInfo{
		Index:        e.windows,
		TargetOffset: e.winStart,
		TargetLen:    len(e.window),
	}
	if s.src != nil && e.idx == nil {
		e.idx = newSourceIndex(e.params.srcBits, e.params.srcStep)
	}
	e.phase = encodeIndex
}

// indexSource adds source blocks to the index until it covers the source
// window for the current target window.
func (e *encoder) indexSource() (bool, error) {
	s := e.s
	if s.src == nil {
		return true, nil
	}
	src := s.src
	limit := e.winStart + int64(len(e.window)) + src.maxWindow
	for !e.idx.done {
		off := e.idx.next << src.shift
		if off >= limit {
			break
		}
		if src.pastEnd(off) {
			e.idx.done = true
			break
		}
		data, ok, err := s.sourceBlock(e.idx.next)
		if err != nil || !ok {
			return false, err
		}
		e.idx.indexBlock(off, data)
		e.idx.next++
		if len(data) < src.BlockSize() {
			e.idx.done = true
		}
	}
	return true, nil
}

func (e *encoder) startMatching() {
	if e.selfMatch {
		e.chain.reset(e.window)
	}
	e.mphase = matchSearch
	e.pos = 0
	e.nextEmit = 0
	e.skip = skipStart
	e.matches = e.matches[:0]
}

// findMatches parses the window into literals and copies. It returns false
// when it needs a source block, and picks up where it left off on the next
// call.
func (e *encoder) findMatches() (bool, error) {
	s := e.s
	win := e.window
	for {
		switch e.mphase {
		case matchSearch:
			if e.pos+minTargetMatch > len(win) {
				if e.nextEmit < len(win) {
					e.matches = append(e.matches, encMatch{unmatched: len(win) - e.nextEmit})
				}
				return true, nil
			}

			e.tgt = absoluteMatch{}
			if e.selfMatch {
				e.tgt = e.chain.find(e.pos, e.nextEmit, e.greedy)
				if e.greedy && e.tgt.length() >= minTargetMatch {
					e.emitMatch(e.tgt.Start, e.tgt.length(), false, int64(e.tgt.Match))
					continue
				}
			}

			e.ncand, e.ci = 0, 0
			e.best = srcMatch{}
			if e.idx != nil {
				if e.pos+srcHashLen <= len(win) {
					if c, ok := e.idx.lookup(binary.LittleEndian.Uint64(win[e.pos:])); ok {
						e.addCandidate(c, srcHashLen)
					}
				}
				if e.hasLast {
					// The source may continue where the last copy ended,
					// after a substitution or after an insertion.
					gap := e.winStart + int64(e.pos) - e.lastTgtEnd
					e.addCandidate(e.lastSrcEnd+gap, 0)
					e.addCandidate(e.lastSrcEnd, 0)
				}
			}
			if e.ncand > 0 {
				e.beginCandidate()
				continue
			}

			if e.tgt.length() >= minTargetMatch {
				e.emitMatch(e.tgt.Start, e.tgt.length(), false, int64(e.tgt.Match))
				continue
			}
			e.advance()

		case matchForward:
			for e.pos+e.fwd < len(win) {
				off := e.cand + int64(e.fwd)
				if s.src.pastEnd(off) {
					break
				}
				blkno, i := s.src.split(off)
				data, ok, err := s.sourceBlock(blkno)
				if err != nil || !ok {
					return false, err
				}
				if i >= len(data) {
					break
				}
				n := matchLen(data[i:], win[e.pos+e.fwd:])
				e.fwd += n
				if i+n < len(data) {
					break
				}
			}
			if e.fwd == 0 {
				e.nextCandidate()
			} else {
				e.mphase = matchBackward
			}

		case matchBackward:
			for e.pos-e.back > e.nextEmit && e.cand-int64(e.back) > 0 {
				blkno, i := s.src.split(e.cand - int64(e.back) - 1)
				data, ok, err := s.sourceBlock(blkno)
				if err != nil || !ok {
					return false, err
				}
				if i >= len(data) {
					break
				}
				j := e.pos - e.back - 1
				for i >= 0 && j >= e.nextEmit && data[i] == win[j] {
					i--
					j--
					e.back++
				}
				if i >= 0 || j < e.nextEmit {
					break
				}
			}
			e.nextCandidate()

		case matchDecide:
			e.mphase = matchSearch
			switch b := e.best; {
			case b.length >= minSourceMatch && b.length > e.tgt.length():
				e.emitMatch(b.start, b.length, true, b.addr)
			case e.tgt.length() >= minTargetMatch:
				e.emitMatch(e.tgt.Start, e.tgt.length(), false, int64(e.tgt.Match))
			default:
				e.advance()
			}
		}
	}
}

// addCandidate adds a source candidate. A guess that is not verified is
// only worth checking if its block is resident.
func (e *encoder) addCandidate(pos int64, verified int) {
	src := e.s.src
	if pos < 0 || src.pastEnd(pos) {
		return
	}
	if verified == 0 {
		blkno, _ := src.split(pos)
		if _, ok := src.block(blkno); !ok {
			return
		}
	}
	for _, c := range e.srcCands[:e.ncand] {
		if c.pos == pos {
			return
		}
	}
	e.srcCands[e.ncand] = srcCandidate{pos: pos, verified: verified}
	e.ncand++
}

func (e *encoder) beginCandidate() {
	c := e.srcCands[e.ci]
	e.cand = c.pos
	e.fwd = c.verified
	e.back = 0
	e.mphase = matchForward
}

// nextCandidate records the match just measured and moves on to the next
// candidate, or to the decision when there are none left.
func (e *encoder) nextCandidate() {
	if n := e.back + e.fwd; n > e.best.length {
		e.best = srcMatch{start: e.pos - e.back, length: n, addr: e.cand - int64(e.back)}
	}
	e.ci++
	if e.greedy && e.best.length >= minSourceMatch {
		e.ci = e.ncand
	}
	if e.ci < e.ncand {
		e.beginCandidate()
		return
	}
	e.mphase = matchDecide
}

func (e *encoder) advance() {
	if e.params.skip {
		e.pos += e.skip >> 5
		e.skip++
		return
	}
	e.pos++
}

func (e *encoder) emitMatch(start, length int, source bool, addr int64) {
	if debugMatches {
		debugf("xdelta: window %d: literal %d, copy %d from %d (source %v)", e.windows, start-e.nextEmit, length, addr, source)
	}
	e.matches = append(e.matches, encMatch{
		unmatched: start - e.nextEmit,
		length:    length,
		source:    source,
		addr:      addr,
	})
	e.pos = start + length
	e.nextEmit = e.pos
	e.skip = skipStart
	if source {
		e.hasLast = true
		e.lastSrcEnd = addr + int64(length)
		e.lastTgtEnd = e.winStart + int64(e.pos)
	}
}

var secondaryOptOut = [3]Flags{FlagSecNoData, FlagSecNoInst, FlagSecNoAddr}

// emitWindow encodes the matches of the current window and makes the result
// the stream's output.
func (e *encoder) emitWindow() {
	s := e.s
	win := e.window

	// The source segment spans every source copy.
	var lo, hi int64
	hasSource := false
	for _, m := range e.matches {
		if !m.source {
			continue
		}
		if !hasSource || m.addr < lo {
			lo = m.addr
		}
		if !hasSource || m.addr+int64(m.length) > hi {
			hi = m.addr + int64(m.length)
		}
		hasSource = true
	}
	segLen := hi - lo

	e.iw.Reset(e.table, uint64(segLen))
	pos := 0
	for _, m := range e.matches {
		e.addLiteral(win[pos : pos+m.unmatched])
		pos += m.unmatched
		if m.length == 0 {
			continue
		}
		if m.source {
			e.iw.Copy(uint64(m.addr-lo), m.length)
		} else {
			e.iw.Copy(uint64(segLen)+uint64(m.addr), m.length)
		}
		pos += m.length
	}
	e.iw.Flush()

	flags := s.cfg.Flags
	wh := vcdiff.WindowHeader{TargetLen: uint64(len(win))}
	if hasSource {
		wh.Indicator |= vcdiff.WinSource
		wh.SourceLen = uint64(segLen)
		wh.SourcePos = uint64(lo)
	}
	switch {
	case flags&FlagXXH32 != 0:
		wh.Indicator |= vcdiff.WinXXH32
	case flags&(FlagAdler32|FlagAdler32Recode) != 0:
		wh.Indicator |= vcdiff.WinAdler32
	}
	if wh.HasChecksum() {
		wh.Checksum = vcdiff.Checksum(wh.Indicator, win)
	}

	sections := [3][]byte{e.iw.Data(), e.iw.Inst(), e.iw.Addr()}
	if s.sec != nil {
		for i := range sections {
			if flags&secondaryOptOut[i] != 0 {
				continue
			}
			var compressed bool
			e.sections[i], compressed = secondary.AppendSection(e.sections[i][:0], s.sec, sections[i])
			if compressed {
				sections[i] = e.sections[i]
				wh.DeltaIndicator |= sectionBits[i]
			}
		}
	}

	out := e.out[:0]
	if !e.wroteHeader {
		out = e.appendHeader(out)
	}
	out = vcdiff.AppendWindow(out, wh, sections[0], sections[1], sections[2])
	e.out = out
	s.out = out

	s.win.HasSource = hasSource
	s.win.SourcePos = lo
	s.win.SourceLen = segLen
	s.win.HasChecksum = wh.HasChecksum()
	s.win.Checksum = wh.Checksum
	debugf("xdelta: window %d: %d target bytes -> %d, %d matches, source %d@%d", e.windows, len(win), len(out), len(e.matches), segLen, lo)
}

// addLiteral adds literal bytes, using RUN instructions for long runs of
// one byte.
func (e *encoder) addLiteral(lit []byte) {
	start := 0
	for i := 0; i < len(lit); {
		j := i + 1
		for j < len(lit) && lit[j] == lit[i] {
			j++
		}
		if j-i >= minRun {
			e.iw.Add(lit[start:i])
			e.iw.Run(lit[i], j-i)
			start = j
		}
		i = j
	}
	e.iw.Add(lit[start:])
}

func (e *encoder) appendHeader(dst []byte) []byte {
	s := e.s
	fh := vcdiff.FileHeader{AppHeader: s.appHeader}
	if s.sec != nil {
		fh.Indicator |= vcdiff.HdrSecondary
		fh.SecondaryID = s.sec.ID()
	}
	if !e.table.IsDefault() {
		fh.CodeTable = e.table.AppendHeaderData(nil)
	}
	e.wroteHeader = true
	return vcdiff.AppendFileHeader(dst, fh)
}
