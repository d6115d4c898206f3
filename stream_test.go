package xdelta

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/andybalholm/xdelta/secondary"
	"github.com/andybalholm/xdelta/vcdiff"
)

// testFiles returns a source of about size bytes of text, and a target made
// from it by a few insertions, deletions and moves.
func testFiles(size int) (source, target []byte) {
	rng := rand.New(rand.NewSource(int64(size)))
	words := []string{"alpha ", "bravo ", "charlie ", "delta ", "echo ", "foxtrot ", "golf ", "hotel ", "india ", "juliet\n"}
	var b bytes.Buffer
	for b.Len() < size {
		b.WriteString(words[rng.Intn(len(words))])
		if rng.Intn(50) == 0 {
			fmt.Fprintf(&b, "%d ", rng.Int63())
		}
	}
	source = b.Bytes()

	chunk := len(source) / 8
	for i := 0; i < 8; i++ {
		part := source[i*chunk : (i+1)*chunk]
		switch i % 4 {
		case 0:
			target = append(target, part...)
		case 1:
			target = append(target, part[len(part)/3:]...)
		case 2:
			target = append(target, "some new text that is not in the source "...)
			target = append(target, part...)
		case 3:
			target = append(target, source[:chunk/2]...)
			target = append(target, part...)
		}
	}
	return source, target
}

// supplyBlock gives src block blkno of data.
func supplyBlock(t testing.TB, src *Source, data []byte, blkno int64) {
	t.Helper()
	start := blkno * int64(src.BlockSize())
	end := start + int64(src.BlockSize())
	if start > int64(len(data)) {
		start = int64(len(data))
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if err := src.Supply(blkno, data[start:end]); err != nil {
		t.Fatal(err)
	}
}

// run drives s to completion, giving it input in pieces of chunk bytes and
// answering source requests from source. It returns the output and the
// states Step reported.
func run(t testing.TB, s *Stream, input []byte, chunk int, source []byte) ([]byte, []State) {
	t.Helper()
	var out []byte
	var states []State
	flushed := false
	for {
		st, err := s.Step()
		if err != nil {
			t.Fatalf("Step: %v (after %v)", err, states)
		}
		states = append(states, st)
		switch st {
		case NeedInput:
			if flushed {
				t.Fatal("NeedInput after Flush")
			}
			if len(input) == 0 {
				if err := s.Flush(); err != nil {
					t.Fatal(err)
				}
				flushed = true
				continue
			}
			n := min(chunk, len(input))
			if err := s.SupplyInput(input[:n]); err != nil {
				t.Fatal(err)
			}
			input = input[n:]
		case HaveOutput:
			o, err := s.Output()
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, o...)
			if err := s.AckOutput(); err != nil {
				t.Fatal(err)
			}
		case NeedSourceBlock:
			supplyBlock(t, s.Source(), source, s.Source().RequestedBlock())
		case Done:
			return out, states
		}
	}
}

func openStream(t testing.TB, encode bool, cfg Config, source []byte, sc SourceConfig) *Stream {
	t.Helper()
	var s *Stream
	var err error
	if encode {
		s, err = NewEncoder(cfg)
	} else {
		s, err = NewDecoder(cfg)
	}
	if err != nil {
		t.Fatal(err)
	}
	if source != nil {
		src, err := NewSource(sc)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetSource(src); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func encode(t testing.TB, cfg Config, target, source []byte, sc SourceConfig) []byte {
	t.Helper()
	delta, _ := run(t, openStream(t, true, cfg, source, sc), target, 4000, source)
	return delta
}

func decode(t testing.TB, cfg Config, delta, source []byte, sc SourceConfig) []byte {
	t.Helper()
	target, _ := run(t, openStream(t, false, cfg, source, sc), delta, 1000, source)
	return target
}

func count(states []State, want State) int {
	n := 0
	for _, st := range states {
		if st == want {
			n++
		}
	}
	return n
}

func test(t *testing.T, cfg Config, source, target []byte) []byte {
	t.Helper()
	sc := SourceConfig{BlockSize: 1 << 12}
	delta := encode(t, cfg, target, source, sc)
	got := decode(t, Config{}, delta, source, sc)
	if !bytes.Equal(got, target) {
		t.Fatalf("decoded %d bytes, want %d; output doesn't match", len(got), len(target))
	}
	return delta
}

func TestRoundTrip(t *testing.T) {
	source, target := testFiles(1 << 17)
	flagSets := []Flags{0, FlagAdler32, FlagXXH32, FlagAltCodeTable, FlagNoCompress, FlagBeGreedy, CompLevel1, CompLevel9, FlagAdler32Recode}
	for _, window := range []int{1 << 10, 1 << 15, 1 << 20} {
		for _, flags := range flagSets {
			t.Run(fmt.Sprintf("%d/%v", window, flags), func(t *testing.T) {
				delta := test(t, Config{WindowSize: window, Flags: flags}, source, target)
				if len(delta) > len(target)/4 {
					t.Errorf("delta is %d bytes for a %d-byte target", len(delta), len(target))
				}
			})
		}
	}
}

func TestRoundTripSecondary(t *testing.T) {
	source, target := testFiles(1 << 16)
	for _, name := range secondary.Names() {
		t.Run(name, func(t *testing.T) {
			test(t, Config{Secondary: name, Flags: FlagAdler32}, source, target)
			test(t, Config{Secondary: name}, nil, target)
			test(t, Config{Secondary: name, Flags: FlagSecNoData | FlagSecNoAddr}, source, target)
		})
	}
}

func TestRoundTripNoSource(t *testing.T) {
	_, target := testFiles(1 << 16)
	delta := test(t, Config{}, nil, target)
	if len(delta) >= len(target) {
		t.Errorf("no compression: %d -> %d", len(target), len(delta))
	}

	// An empty source is attached but never referenced.
	delta = test(t, Config{Flags: FlagAdler32}, []byte{}, target)
	_, _, windows, err := vcdiff.ReadWindows(delta)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range windows {
		if w.Header.Indicator&vcdiff.WinSource != 0 {
			t.Fatalf("window at %d copies from an empty source", w.TargetOffset)
		}
	}

	// Runs of one byte become RUN instructions.
	runs := append(bytes.Repeat([]byte{'x'}, 300), "end"...)
	test(t, Config{Flags: FlagNoCompress}, nil, runs)
}

// The encoder's output is plain VCDIFF, which the in-memory decoder of the
// vcdiff package reads too.
func TestInMemoryDecoderAgrees(t *testing.T) {
	source, target := testFiles(1 << 16)
	for _, flags := range []Flags{FlagAdler32, FlagAltCodeTable} {
		delta := encode(t, Config{WindowSize: 1 << 12, Flags: flags}, target, source, SourceConfig{})
		got, err := vcdiff.DecodeAll(delta, source)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, target) {
			t.Fatal("vcdiff.DecodeAll output doesn't match")
		}
	}
}

func TestSourceCopy(t *testing.T) {
	source := bytes.Repeat([]byte{'A'}, 64)
	target := append(bytes.Repeat([]byte{'A'}, 63), 'B')
	delta := test(t, Config{Flags: FlagAdler32}, source, target)

	_, _, windows, err := vcdiff.ReadWindows(delta)
	if err != nil {
		t.Fatal(err)
	}
	if len(windows) != 1 {
		t.Fatalf("got %d windows", len(windows))
	}
	w := windows[0]
	if w.Header.Indicator&vcdiff.WinSource == 0 || w.Header.SourcePos != 0 || w.Header.SourceLen != 63 {
		t.Fatalf("window header %+v", w.Header)
	}
	if len(w.Instructions) != 2 {
		t.Fatalf("instructions %v", w.Instructions)
	}
	if in := w.Instructions[0]; in.Type != vcdiff.Copy || in.Size != 63 || in.Addr != 0 {
		t.Errorf("first instruction %v, want COPY 63 @0", in)
	}
	if in := w.Instructions[1]; in.Type != vcdiff.Add || string(in.Data) != "B" {
		t.Errorf("second instruction %v, want ADD \"B\"", in)
	}
}

func TestWindowBoundary(t *testing.T) {
	const window = 1 << 10
	data := make([]byte, window+1)
	rand.New(rand.NewSource(3)).Read(data)

	for _, n := range []int{window, window + 1} {
		target := data[:n]
		delta, states := run(t, openStream(t, true, Config{WindowSize: window}, nil, SourceConfig{}), target, len(target), nil)
		want := n / window
		if n%window != 0 {
			want++
		}
		if got := count(states, WindowStart); got != want {
			t.Errorf("%d bytes: %d WindowStart, want %d", n, got, want)
		}
		if got := count(states, WindowFinish); got != want {
			t.Errorf("%d bytes: %d WindowFinish, want %d", n, got, want)
		}

		got, states := run(t, openStream(t, false, Config{}, nil, SourceConfig{}), delta, 100, nil)
		if !bytes.Equal(got, target) {
			t.Fatalf("%d bytes: output doesn't match", n)
		}
		if count(states, WindowStart) != want || count(states, GotHeader) != 1 {
			t.Errorf("%d bytes: decoder states %v", n, states)
		}
	}
}

func TestFlagFlush(t *testing.T) {
	target := bytes.Repeat([]byte("0123456789"), 300)
	_, states := run(t, openStream(t, true, Config{Flags: FlagFlush}, nil, SourceConfig{}), target, 1000, nil)
	if got := count(states, WindowFinish); got != 3 {
		t.Fatalf("got %d windows, want 3", got)
	}
}

func TestEmptyTarget(t *testing.T) {
	delta := test(t, Config{AppHeader: "empty"}, nil, nil)
	fh, n, err := vcdiff.ParseFileHeader(delta)
	if err != nil || n != len(delta) || string(fh.AppHeader) != "empty" {
		t.Fatalf("delta % x is not a lone header (%v)", delta, err)
	}
	test(t, Config{}, []byte("some source"), nil)
}

// Supplying the requested block a second time changes nothing.
func TestRepeatedSupply(t *testing.T) {
	source, target := testFiles(1 << 15)
	sc := SourceConfig{BlockSize: 1 << 10}
	delta := encode(t, Config{}, target, source, sc)

	s := openStream(t, false, Config{}, source, sc)
	var out []byte
	requests := 0
	for done := false; !done; {
		st, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		switch st {
		case NeedInput:
			if len(delta) == 0 {
				s.Flush()
				continue
			}
			s.SupplyInput(delta)
			delta = nil
		case HaveOutput:
			o, _ := s.Output()
			out = append(out, o...)
			s.AckOutput()
		case NeedSourceBlock:
			requests++
			blkno := s.Source().RequestedBlock()
			// A short block under the wrong number says nothing about
			// where the source ends.
			if err := s.Source().Supply(blkno+1, []byte{0}); err != nil {
				t.Fatal(err)
			}
			supplyBlock(t, s.Source(), source, blkno)
			supplyBlock(t, s.Source(), source, blkno)
			if s.Source().CurrentBlock() != blkno {
				t.Fatalf("current block %d, want %d", s.Source().CurrentBlock(), blkno)
			}
		case Done:
			done = true
		}
	}
	if requests == 0 {
		t.Error("decoder never asked for a source block")
	}
	if !bytes.Equal(out, target) {
		t.Fatal("output doesn't match")
	}
}

func TestChecksumMismatch(t *testing.T) {
	target := make([]byte, 1000)
	rand.New(rand.NewSource(4)).Read(target)
	for _, flags := range []Flags{FlagAdler32, FlagXXH32} {
		delta := encode(t, Config{Flags: flags}, target, nil, SourceConfig{})
		delta[len(delta)/2] ^= 0x55

		s := openStream(t, false, Config{}, nil, SourceConfig{})
		if err := s.SupplyInput(delta); err != nil {
			t.Fatal(err)
		}
		var st State
		var err error
		for err == nil {
			st, err = s.Step()
			if st == HaveOutput {
				t.Fatal("corrupt window was emitted")
			}
			if st == Done {
				t.Fatal("corrupt delta decoded without error")
			}
		}
		if st != Error || !errors.Is(err, ErrChecksum) {
			t.Fatalf("got %v %v, want a checksum error", st, err)
		}
		if s.State() != Error || !errors.Is(s.Err(), ErrChecksum) {
			t.Fatalf("stream state %v %v", s.State(), s.Err())
		}
		if _, err := s.Step(); !errors.Is(err, ErrChecksum) {
			t.Fatalf("failed stream stepped again: %v", err)
		}
		if err := s.SupplyInput([]byte{1}); !errors.Is(err, ErrChecksum) {
			t.Fatalf("failed stream accepted input: %v", err)
		}

		// Without verification, the damaged window comes through.
		got := decode(t, Config{Flags: FlagAdler32NoVerify}, delta, nil, SourceConfig{})
		if len(got) != len(target) || bytes.Equal(got, target) {
			t.Fatal("unverified decode did not return the damaged window")
		}
	}
}

func TestProtocolErrors(t *testing.T) {
	source, target := testFiles(1 << 14)
	sc := SourceConfig{BlockSize: 1 << 10}
	delta := encode(t, Config{}, target, source, sc)

	s := openStream(t, false, Config{}, source, sc)
	if err := s.AckOutput(); !errors.Is(err, ErrProtocol) {
		t.Errorf("AckOutput before output: %v", err)
	}
	if _, err := s.Output(); !errors.Is(err, ErrProtocol) {
		t.Errorf("Output before output: %v", err)
	}
	if err := s.SupplyInput(delta); err != nil {
		t.Fatal(err)
	}
	if err := s.SupplyInput(delta); !errors.Is(err, ErrProtocol) {
		t.Errorf("second SupplyInput: %v", err)
	}

	sawBlock, sawOutput := false, false
	for {
		st, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		if st == NeedSourceBlock && !sawBlock {
			sawBlock = true
			if st2, err := s.Step(); st2 != NeedSourceBlock || !errors.Is(err, ErrProtocol) {
				t.Fatalf("Step without a block: %v %v", st2, err)
			}
			if err := s.SetSource(s.Source()); !errors.Is(err, ErrProtocol) {
				t.Errorf("SetSource after start: %v", err)
			}
		}
		if st == HaveOutput && !sawOutput {
			sawOutput = true
			if st2, err := s.Step(); st2 != HaveOutput || !errors.Is(err, ErrProtocol) {
				t.Fatalf("Step without AckOutput: %v %v", st2, err)
			}
			if err := s.SupplyInput([]byte{0}); !errors.Is(err, ErrProtocol) {
				t.Errorf("SupplyInput with output pending: %v", err)
			}
			if s.State() != HaveOutput {
				t.Fatalf("protocol error changed the state to %v", s.State())
			}
		}
		switch st {
		case NeedInput:
			s.Flush()
		case HaveOutput:
			s.AckOutput()
			if _, err := s.Output(); !errors.Is(err, ErrProtocol) {
				t.Errorf("Output after AckOutput: %v", err)
			}
		case NeedSourceBlock:
			supplyBlock(t, s.Source(), source, s.Source().RequestedBlock())
		}
		if st == Done {
			break
		}
	}
	if !sawBlock || !sawOutput {
		t.Fatalf("block %v, output %v", sawBlock, sawOutput)
	}
}

func TestWrongBlockSupplied(t *testing.T) {
	source, target := testFiles(1 << 14)
	sc := SourceConfig{BlockSize: 1 << 10}
	delta := encode(t, Config{}, target, source, sc)

	s := openStream(t, false, Config{}, source, sc)
	s.SupplyInput(delta)
	for {
		st, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		if st == NeedSourceBlock {
			break
		}
		if st == HaveOutput {
			s.AckOutput()
		}
	}
	wrong := s.Source().RequestedBlock() + 1
	supplyBlock(t, s.Source(), source, wrong)
	st, err := s.Step()
	if st != Error || !errors.Is(err, ErrSource) {
		t.Fatalf("got %v %v, want a source error", st, err)
	}
}

func TestDecoderFlags(t *testing.T) {
	source, target := testFiles(1 << 14)
	delta := encode(t, Config{WindowSize: 1 << 12, AppHeader: "name", Flags: FlagAdler32}, target, source, SourceConfig{})

	s := openStream(t, false, Config{Flags: FlagJustHeader}, source, SourceConfig{})
	out, states := run(t, s, delta, len(delta), source)
	if len(out) != 0 || count(states, GotHeader) != 1 || count(states, WindowStart) != 0 {
		t.Errorf("just header: states %v", states)
	}
	if string(s.AppHeader()) != "name" {
		t.Errorf("app header %q", s.AppHeader())
	}

	windows := (len(target) + 1<<12 - 1) >> 12
	for _, flags := range []Flags{FlagSkipEmit, FlagSkipWindow} {
		out, states := run(t, openStream(t, false, Config{Flags: flags}, source, SourceConfig{}), delta, 500, source)
		if len(out) != 0 {
			t.Errorf("%v: %d bytes of output", flags, len(out))
		}
		if count(states, WindowStart) != windows || count(states, WindowFinish) != windows {
			t.Errorf("%v: states %v", flags, states)
		}
	}
}

func TestWindowInfo(t *testing.T) {
	source, target := testFiles(1 << 14)
	delta := encode(t, Config{WindowSize: 1 << 12, Flags: FlagAdler32}, target, source, SourceConfig{})
	s := openStream(t, false, Config{}, source, SourceConfig{})
	s.SupplyInput(delta)
	s.Flush()
	var offset int64
	for {
		st, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		switch st {
		case WindowStart:
			w := s.Window()
			if w.TargetOffset != offset || !w.HasChecksum {
				t.Fatalf("window %+v at offset %d", w, offset)
			}
			offset += int64(w.TargetLen)
		case HaveOutput:
			s.AckOutput()
		case NeedSourceBlock:
			supplyBlock(t, s.Source(), source, s.Source().RequestedBlock())
		}
		if st == Done {
			break
		}
	}
	if offset != int64(len(target)) {
		t.Fatalf("windows cover %d bytes, want %d", offset, len(target))
	}
}

func TestInvalidDeltas(t *testing.T) {
	_, target := testFiles(1 << 12)
	delta := encode(t, Config{}, target, nil, SourceConfig{})

	header := vcdiff.AppendFileHeader(nil, vcdiff.FileHeader{})
	cases := map[string][]byte{
		"truncated":    delta[:len(delta)-3],
		"bad magic":    append([]byte("GIF89a"), delta...),
		"empty":        {},
		"target mode":  append(append([]byte(nil), header...), vcdiff.WinTarget, 1, 0, 10),
		"needs source": append(append([]byte(nil), header...), vcdiff.WinSource, 10, 0, 10),
		"secondary":    vcdiff.AppendFileHeader(nil, vcdiff.FileHeader{Indicator: vcdiff.HdrSecondary, SecondaryID: secondary.IDLZMA}),
	}
	for name, d := range cases {
		s := openStream(t, false, Config{}, nil, SourceConfig{})
		if len(d) > 0 {
			s.SupplyInput(d)
		}
		s.Flush()
		var err error
		var st State
		for err == nil && st != Done {
			st, err = s.Step()
			if st == HaveOutput {
				s.AckOutput()
			}
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: got %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestSmallMaxWindowSize(t *testing.T) {
	cfg := Config{MaxWindowSize: 1 << 15}
	if _, err := NewDecoder(cfg); err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	source, target := testFiles(1 << 16)
	sc := SourceConfig{BlockSize: 1 << 12}
	delta := encode(t, cfg, target, source, sc)
	if got := decode(t, cfg, delta, source, sc); !bytes.Equal(got, target) {
		t.Fatal("output doesn't match")
	}
	_, _, windows, err := vcdiff.ReadWindows(delta)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range windows {
		if w.Header.TargetLen > 1<<15 {
			t.Fatalf("window at %d has %d bytes", w.TargetOffset, w.Header.TargetLen)
		}
	}
}

// A compressed section may not claim to be larger than its window allows.
func TestOversizedSection(t *testing.T) {
	delta := vcdiff.AppendFileHeader(nil, vcdiff.FileHeader{Indicator: vcdiff.HdrSecondary, SecondaryID: secondary.IDSnappy})
	data := append(vcdiff.AppendInteger(nil, 1<<20), 'x')
	delta = vcdiff.AppendWindow(delta, vcdiff.WindowHeader{TargetLen: 10, DeltaIndicator: vcdiff.DataCompressed}, data, []byte{1}, nil)

	s := openStream(t, false, Config{}, nil, SourceConfig{})
	if err := s.SupplyInput(delta); err != nil {
		t.Fatal(err)
	}
	st, err := s.Step()
	for err == nil && st != Done && st != NeedInput {
		st, err = s.Step()
	}
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, vcdiff.ErrOverflow) {
		t.Fatalf("got %v, want a section length overflow", err)
	}
}

func TestNewStreamRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{WindowSize: 8},
		{WindowSize: 1 << 25},
		{Level: 12},
		{Flags: FlagAdler32 | FlagXXH32},
		{Flags: 1 << 30},
		{Secondary: "lzma"},
	} {
		if _, err := NewEncoder(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%+v: got %v, want ErrInvalidConfig", cfg, err)
		}
	}
	if _, err := NewSource(SourceConfig{BlockSize: 1000}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("block size 1000: got %v", err)
	}
}

func benchmark(b *testing.B, cfg Config, size int) {
	b.StopTimer()
	b.ReportAllocs()
	source, target := testFiles(size)
	b.SetBytes(int64(len(target)))
	delta := encode(b, cfg, target, source, SourceConfig{})
	b.ReportMetric(float64(len(target))/float64(len(delta)), "ratio")
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		encode(b, cfg, target, source, SourceConfig{})
	}
}

func BenchmarkEncode(b *testing.B) {
	benchmark(b, Config{}, 1<<20)
}

func BenchmarkEncodeLevel1(b *testing.B) {
	benchmark(b, Config{Level: 1}, 1<<20)
}

func BenchmarkEncodeAltCodeTable(b *testing.B) {
	benchmark(b, Config{Flags: FlagAltCodeTable}, 1<<20)
}

func BenchmarkDecode(b *testing.B) {
	b.StopTimer()
	b.ReportAllocs()
	source, target := testFiles(1 << 20)
	delta := encode(b, Config{}, target, source, SourceConfig{})
	b.SetBytes(int64(len(target)))
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		decode(b, Config{}, delta, source, SourceConfig{})
	}
}
