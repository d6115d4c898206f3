package xdelta

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
window_size: 65536
flags: [adler32, alt_code_table]
level: 9
secondary: zstd
app_header: "old.bin//new.bin"
source:
  block_size: 4096
  max_window: 1048576
`))
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		WindowSize: 65536,
		Flags:      FlagAdler32 | FlagAltCodeTable,
		Level:      9,
		Secondary:  "zstd",
		AppHeader:  "old.bin//new.bin",
		Source:     SourceConfig{BlockSize: 4096, MaxWindow: 1 << 20},
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}

	s, err := NewEncoder(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if string(s.AppHeader()) != "old.bin//new.bin" {
		t.Errorf("app header %q", s.AppHeader())
	}
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != (Config{}) {
		t.Fatalf("got %+v from an empty document", cfg)
	}
}

func TestLoadConfigFlagForms(t *testing.T) {
	for doc, want := range map[string]Flags{
		"flags: skip_emit\n":          FlagSkipEmit,
		"flags: 0x400\n":              FlagAdler32,
		"flags: [flush, be_greedy]\n": FlagFlush | FlagBeGreedy,
	} {
		cfg, err := LoadConfig(strings.NewReader(doc))
		if err != nil {
			t.Errorf("%q: %v", doc, err)
			continue
		}
		if cfg.Flags != want {
			t.Errorf("%q: got %v, want %v", doc, cfg.Flags, want)
		}
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for _, doc := range []string{
		"flags: [adler32, xxh32]\n",
		"flags: [not_a_flag]\n",
		"flags: {a: b}\n",
		"window_size: 4\n",
		"level: 10\n",
		"secondary: lzma\n",
		"unknown_field: 1\n",
		"source:\n  block_size: 1000\n",
		"source:\n  block_size: 4096\n  max_window: 100\n",
	} {
		if _, err := LoadConfig(strings.NewReader(doc)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%q: got %v, want ErrInvalidConfig", doc, err)
		}
	}
}

func TestFlagsYAMLRoundTrip(t *testing.T) {
	for _, f := range []Flags{0, FlagAdler32 | FlagNoCompress, FlagXXH32 | CompLevel3} {
		out, err := yaml.Marshal(Config{Flags: f})
		if err != nil {
			t.Fatal(err)
		}
		var cfg Config
		if err := yaml.Unmarshal(out, &cfg); err != nil {
			t.Fatalf("%s: %v", out, err)
		}
		if cfg.Flags != f {
			t.Errorf("%s: got %v, want %v", out, cfg.Flags, f)
		}
	}
}

func TestFlagsString(t *testing.T) {
	for f, want := range map[Flags]string{
		0:                            "0",
		FlagNoCompress | FlagAdler32: "adler32|nocompress",
		FlagXXH32 | CompLevel9:       "xxh32|level9",
	} {
		if got := f.String(); got != want {
			t.Errorf("Flags(%#x).String() = %q, want %q", uint32(f), got, want)
		}
	}
	if got := CompLevel9.Level(); got != 9 {
		t.Errorf("CompLevel9.Level() = %d", got)
	}
	if got := (CompLevel9 | FlagFlush).WithLevel(1); got != CompLevel1|FlagFlush {
		t.Errorf("WithLevel(1) = %v", got)
	}
}

func TestStateString(t *testing.T) {
	if s := NeedSourceBlock.String(); s != "NeedSourceBlock" {
		t.Errorf("NeedSourceBlock.String() = %q", s)
	}
	if s := State(42).String(); s != "State(42)" {
		t.Errorf("State(42).String() = %q", s)
	}
	if !Done.Terminal() || HaveOutput.Terminal() {
		t.Error("Terminal disagrees with Done and HaveOutput")
	}
}
