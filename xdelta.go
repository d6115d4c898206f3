// Package xdelta is a streaming delta compressor. It computes the
// differences between a source and a target and writes them in the VCDIFF
// format (RFC 3284, with the xdelta3 extensions), and it applies such deltas
// to reconstruct the target.
//
// The codec is a state machine driven by the caller. A Stream never blocks
// and never does I/O of its own: Step runs until it needs something from the
// caller and reports what it is through its State. The caller supplies input
// with SupplyInput, drains output with Output and AckOutput, and supplies
// source blocks through the Source when asked, then calls Step again.
//
//	for {
//		st, err := s.Step()
//		switch st {
//		case xdelta.NeedInput:
//			// s.SupplyInput(next chunk) or s.Flush()
//		case xdelta.HaveOutput:
//			// write s.Output(), then s.AckOutput()
//		case xdelta.NeedSourceBlock:
//			// src.Supply(src.RequestedBlock(), block bytes)
//		case xdelta.Done:
//			return nil
//		case xdelta.Error:
//			return err
//		}
//	}
//
// The Writer and PatchWriter types wrap this loop for callers that have an
// io.Writer and an io.ReaderAt.
package xdelta

import "fmt"

// A State is the reason Step returned.
type State int

const (
	// NeedInput means the stream has consumed all of its input and needs
	// more (or a call to Flush).
	NeedInput State = iota

	// HaveOutput means that Output holds data that must be written and
	// acknowledged before the next Step.
	HaveOutput

	// NeedSourceBlock means that the Source must be given the block
	// numbered RequestedBlock before the next Step.
	NeedSourceBlock

	// GotHeader means the decoder has read the file header.
	GotHeader

	// WindowStart means that a window has been started; Window describes
	// it.
	WindowStart

	// WindowFinish means that a window has been completed.
	WindowFinish

	// Done means the stream has finished successfully.
	Done

	// Error means the stream has failed. Err returns the reason.
	Error
)

var stateNames = [...]string{
	NeedInput:       "NeedInput",
	HaveOutput:      "HaveOutput",
	NeedSourceBlock: "NeedSourceBlock",
	GotHeader:       "GotHeader",
	WindowStart:     "WindowStart",
	WindowFinish:    "WindowFinish",
	Done:            "Done",
	Error:           "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further progress is possible from s.
func (s State) Terminal() bool {
	return s == Done || s == Error
}

// Flags modify the behavior of a Stream. The bit positions are the ones
// xdelta3 uses.
type Flags uint32

const (
	// FlagJustHeader makes the decoder stop after the file header.
	FlagJustHeader Flags = 1 << 1

	// FlagSkipWindow makes the decoder parse windows without applying
	// them.
	FlagSkipWindow Flags = 1 << 2

	// FlagSkipEmit makes the decoder apply and verify windows without
	// producing output.
	FlagSkipEmit Flags = 1 << 3

	// FlagFlush makes the encoder end a window whenever it runs out of
	// input, instead of waiting for the window to fill.
	FlagFlush Flags = 1 << 4

	// FlagSecNoData, FlagSecNoInst and FlagSecNoAddr exclude a section
	// from secondary compression.
	FlagSecNoData Flags = 1 << 7
	FlagSecNoInst Flags = 1 << 8
	FlagSecNoAddr Flags = 1 << 9

	// FlagAdler32 makes the encoder write an Adler-32 checksum for each
	// window.
	FlagAdler32 Flags = 1 << 10

	// FlagAdler32NoVerify makes the decoder ignore window checksums.
	FlagAdler32NoVerify Flags = 1 << 11

	// FlagAltCodeTable makes the encoder use the alternate code table,
	// which is sent in the file header.
	FlagAltCodeTable Flags = 1 << 12

	// FlagNoCompress stops the encoder from looking for matches within the
	// target; only the source is searched.
	FlagNoCompress Flags = 1 << 13

	// FlagBeGreedy makes the encoder take the first acceptable match
	// instead of the best one it can find.
	FlagBeGreedy Flags = 1 << 14

	// FlagAdler32Recode is accepted for compatibility; the encoder treats
	// it like FlagAdler32.
	FlagAdler32Recode Flags = 1 << 15

	// FlagXXH32 makes the encoder write an xxHash32 checksum for each
	// window instead of Adler-32. Decoders other than this one do not
	// understand it.
	FlagXXH32 Flags = 1 << 16
)

// Compression levels occupy four bits of the flags.
const (
	CompLevelShift       = 20
	CompLevelMask  Flags = 0xf << CompLevelShift

	CompLevel1 Flags = 1 << CompLevelShift
	CompLevel2 Flags = 2 << CompLevelShift
	CompLevel3 Flags = 3 << CompLevelShift
	CompLevel6 Flags = 6 << CompLevelShift
	CompLevel9 Flags = 9 << CompLevelShift
)

const allFlags = FlagJustHeader | FlagSkipWindow | FlagSkipEmit | FlagFlush |
	FlagSecNoData | FlagSecNoInst | FlagSecNoAddr |
	FlagAdler32 | FlagAdler32NoVerify | FlagAltCodeTable | FlagNoCompress |
	FlagBeGreedy | FlagAdler32Recode | FlagXXH32 | CompLevelMask

// DefaultLevel is the compression level used when none is set.
const DefaultLevel = 6

// Level returns the compression level encoded in f, or 0 if there is none.
func (f Flags) Level() int {
	return int((f & CompLevelMask) >> CompLevelShift)
}

// WithLevel returns f with its compression level replaced.
func (f Flags) WithLevel(level int) Flags {
	return f&^CompLevelMask | Flags(level)<<CompLevelShift&CompLevelMask
}

// WindowInfo describes the current window. It is valid from WindowStart
// until the next window starts. When encoding, the source fields and the
// checksum are filled in when the window's output is ready.
type WindowInfo struct {
	// Index counts windows from 0.
	Index int

	// TargetOffset and TargetLen locate the window in the target.
	TargetOffset int64
	TargetLen    int

	// HasSource is set if the window copies from the source; SourcePos
	// and SourceLen give the segment of the source it uses.
	HasSource bool
	SourcePos int64
	SourceLen int64

	HasChecksum bool
	Checksum    uint32
}
