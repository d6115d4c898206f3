package xdelta

import (
	"encoding/binary"
	"math/bits"
	"runtime"
)

// An absoluteMatch is a match between two parts of the target window,
// stored as indexes into the window.
type absoluteMatch struct {
	// Start is the index of the first byte.
	Start int

	// End is the index of the byte after the last byte
	// (so that End - Start = Length).
	End int

	// Match is the index of the earlier data that matches.
	Match int
}

func (m absoluteMatch) length() int { return m.End - m.Start }

// A hashChain indexes a target window so that the encoder can find matches
// against earlier parts of the same window.
type hashChain struct {
	// searchLen is how many entries to examine on the hash chain.
	searchLen int

	table [chainTableSize]uint32

	window []byte

	// chain[i] is one more than the previous position with the same hash
	// as i, or 0.
	chain []uint32
}

const (
	chainTableBits = 16
	chainTableSize = 1 << chainTableBits
	chainShift     = 32 - chainTableBits
	// chainTableMask is redundant, but helps the compiler eliminate bounds
	// checks.
	chainTableMask = chainTableSize - 1
)

// reset indexes window, replacing the previous one.
func (q *hashChain) reset(window []byte) {
	q.table = [chainTableSize]uint32{}
	q.window = window
	chain := q.chain[:0]
	for i := 0; i+3 < len(window); i++ {
		h := hash4(binary.LittleEndian.Uint32(window[i:]))
		chain = append(chain, q.table[h&chainTableMask])
		q.table[h&chainTableMask] = uint32(i + 1)
	}
	q.chain = chain
}

const hashMul32 = 0x1e35a7bd

func hash4(u uint32) uint32 {
	return (u * hashMul32) >> chainShift
}

// find returns the longest earlier match for the string at pos, or the
// first one found if greedy is set. The match may extend backward as far as
// min, and forward to the end of the window. A zero-length result means
// there is no match of at least 4 bytes.
func (q *hashChain) find(pos, min int, greedy bool) absoluteMatch {
	var best absoluteMatch
	src := q.window
	if pos >= len(q.chain) {
		return best
	}
	seq := binary.LittleEndian.Uint32(src[pos:])

	candidate := pos
	for i := 0; i < q.searchLen; i++ {
		prev := q.chain[candidate]
		if prev == 0 {
			break
		}
		candidate = int(prev - 1)
		if binary.LittleEndian.Uint32(src[candidate:]) != seq {
			continue
		}

		m := absoluteMatch{
			Start: pos,
			End:   extendMatch(src, candidate+4, pos+4),
			Match: candidate,
		}
		for m.Start > min && m.Match > 0 && src[m.Start-1] == src[m.Match-1] {
			m.Start--
			m.Match--
		}
		if m.length() > best.length() {
			best = m
		}
		if greedy || best.End == len(src) {
			break
		}
	}
	return best
}

// extendMatch returns the largest k such that k <= len(src) and that
// src[i:i+k-j] and src[j:k] have the same contents.
//
// It assumes that:
//
//	0 <= i && i < j && j <= len(src)
func extendMatch(src []byte, i, j int) int {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		// Compare 8 bytes at a time while there are 8 left. The first
		// differing byte is found from the lowest set bit of the XOR.
		for j+8 < len(src) {
			iBytes := binary.LittleEndian.Uint64(src[i:])
			jBytes := binary.LittleEndian.Uint64(src[j:])
			if iBytes != jBytes {
				return j + bits.TrailingZeros64(iBytes^jBytes)>>3
			}
			i, j = i+8, j+8
		}
	case "386":
		for j+4 < len(src) {
			iBytes := binary.LittleEndian.Uint32(src[i:])
			jBytes := binary.LittleEndian.Uint32(src[j:])
			if iBytes != jBytes {
				return j + bits.TrailingZeros32(iBytes^jBytes)>>3
			}
			i, j = i+4, j+4
		}
	}
	for ; j < len(src) && src[i] == src[j]; i, j = i+1, j+1 {
	}
	return j
}

// matchLen returns the length of the common prefix of a and b, which
// (unlike the operands of extendMatch) need not be parts of the same slice.
func matchLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for ; i+8 <= n; i += 8 {
		if x := binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]); x != 0 {
			return i + bits.TrailingZeros64(x)>>3
		}
	}
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
