package xdelta

import (
	"fmt"

	"github.com/andybalholm/xdelta/secondary"
)

// A Stream is an encoder or a decoder. It is not safe for concurrent use.
type Stream struct {
	cfg    Config
	encode bool

	state   State
	err     error
	started bool

	src *Source

	in    []byte
	flush bool

	out   []byte
	acked bool

	win       WindowInfo
	appHeader []byte
	sec       secondary.Compressor

	totalIn  int64
	totalOut int64

	enc *encoder
	dec *decoder
}

// NewEncoder returns a Stream that reads a target and produces a delta.
func NewEncoder(cfg Config) (*Stream, error) {
	s, err := newStream(cfg)
	if err != nil {
		return nil, err
	}
	s.encode = true
	s.enc = newEncoder(s)
	return s, nil
}

// NewDecoder returns a Stream that reads a delta and produces the target.
func NewDecoder(cfg Config) (*Stream, error) {
	s, err := newStream(cfg)
	if err != nil {
		return nil, err
	}
	s.dec = newDecoder(s)
	return s, nil
}

func newStream(cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Stream{cfg: cfg, state: NeedInput}
	if cfg.Secondary != "" {
		s.sec = secondary.ByName(cfg.Secondary)
	}
	if cfg.AppHeader != "" {
		s.appHeader = []byte(cfg.AppHeader)
	}
	return s, nil
}

// SetSource attaches src to s. It must be called before the first Step,
// and a Source can serve only one Stream.
func (s *Stream) SetSource(src *Source) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch {
	case s.started:
		return protocolError("SetSource after the stream has started")
	case s.src != nil:
		return protocolError("stream already has a source")
	case src == nil:
		return protocolError("nil source")
	case src.stream != nil && src.stream != s:
		return protocolError("source is attached to another stream")
	}
	src.stream = s
	src.reset()
	s.src = src
	return nil
}

// Source returns the attached Source, or nil.
func (s *Stream) Source() *Source { return s.src }

// SupplyInput gives the stream its next chunk of input. It is only allowed
// when the stream is waiting for input and has consumed everything it was
// given before. The slice is borrowed until the stream next reports
// NeedInput.
func (s *Stream) SupplyInput(p []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch {
	case s.state != NeedInput:
		return protocolError("SupplyInput in state %v", s.state)
	case s.flush:
		return protocolError("SupplyInput after Flush")
	case len(s.in) != 0:
		return protocolError("SupplyInput with %d bytes of earlier input unconsumed", len(s.in))
	}
	s.in = p
	s.totalIn += int64(len(p))
	return nil
}

// Flush marks the end of the input. The stream finishes the last window
// and then reports Done.
func (s *Stream) Flush() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state != NeedInput {
		return protocolError("Flush in state %v", s.state)
	}
	s.flush = true
	return nil
}

// Step runs the stream until it needs something from the caller, and
// reports what that is. If the call is not valid in the current state
// (because output is unacknowledged, or a source block was not supplied),
// Step returns the current state and an error wrapping ErrProtocol, and
// the stream is unaffected. Any other error is fatal: the state becomes
// Error and stays there.
func (s *Stream) Step() (State, error) {
	switch s.state {
	case Error:
		return Error, s.err
	case Done:
		return Done, nil
	case HaveOutput:
		if !s.acked {
			return s.state, protocolError("output has not been acknowledged")
		}
	case NeedSourceBlock:
		if s.src.awaiting {
			return s.state, protocolError("source block %d has not been supplied", s.src.requested)
		}
	}
	s.started = true

	var st State
	var err error
	if s.encode {
		st, err = s.enc.step()
	} else {
		st, err = s.dec.step()
	}
	if err != nil {
		s.fail(err)
		return Error, s.err
	}
	if st == HaveOutput {
		s.acked = false
		s.totalOut += int64(len(s.out))
	}
	if debug && st != s.state {
		debugf("xdelta: %v -> %v", s.state, st)
	}
	s.state = st
	return st, nil
}

func (s *Stream) fail(err error) {
	s.err = err
	s.state = Error
	s.out = nil
	s.in = nil
	if debug {
		debugf("xdelta: stream failed: %v", err)
	}
}

// usable returns the stream's error if it has failed.
func (s *Stream) usable() error {
	if s.state == Error {
		return s.err
	}
	return nil
}

// Output returns the pending output. It is only valid in state HaveOutput,
// and only until AckOutput is called.
func (s *Stream) Output() ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.state != HaveOutput || s.acked {
		return nil, protocolError("Output in state %v", s.state)
	}
	return s.out, nil
}

// AckOutput tells the stream that its output has been written.
func (s *Stream) AckOutput() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state != HaveOutput || s.acked {
		return protocolError("AckOutput in state %v", s.state)
	}
	s.acked = true
	s.out = nil
	return nil
}

// State returns the state reported by the last Step.
func (s *Stream) State() State { return s.state }

// Err returns the error that put the stream in state Error, if any.
func (s *Stream) Err() error { return s.err }

// Window describes the current window.
func (s *Stream) Window() WindowInfo { return s.win }

// AppHeader returns the application header: the configured one when
// encoding, or the one read from the file header when decoding (valid from
// GotHeader on).
func (s *Stream) AppHeader() []byte { return s.appHeader }

// TotalIn and TotalOut return the number of bytes consumed and produced.
func (s *Stream) TotalIn() int64  { return s.totalIn }
func (s *Stream) TotalOut() int64 { return s.totalOut }

// Close releases the stream's buffers and detaches its source. The stream
// cannot be used afterward.
func (s *Stream) Close() error {
	if s.src != nil {
		s.src.stream = nil
		s.src.reset()
		s.src = nil
	}
	s.enc = nil
	s.dec = nil
	s.in = nil
	s.out = nil
	if s.state != Error && s.state != Done {
		s.err = fmt.Errorf("%w: stream closed", ErrProtocol)
		s.state = Error
	}
	return nil
}

// take consumes up to n bytes of input.
func (s *Stream) take(n int) []byte {
	if n > len(s.in) {
		n = len(s.in)
	}
	p := s.in[:n]
	s.in = s.in[n:]
	return p
}

// sourceBlock returns the contents of source block blkno. If the block is
// not resident, it is requested, and ok is false. It fails if the block was
// already requested and the caller supplied a different one.
func (s *Stream) sourceBlock(blkno int64) (data []byte, ok bool, err error) {
	if data, ok := s.src.block(blkno); ok {
		return data, true, nil
	}
	if s.state == NeedSourceBlock && s.src.requested == blkno {
		return nil, false, fmt.Errorf("%w: block %d was requested, block %d was supplied", ErrSource, blkno, s.src.blkno)
	}
	if debug {
		debugf("xdelta: requesting source block %d", blkno)
	}
	s.src.request(blkno)
	return nil, false, nil
}
