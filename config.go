package xdelta

import (
	"fmt"
	"io"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/xdelta/secondary"
	"github.com/andybalholm/xdelta/vcdiff"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWindowSize is the encoder's target window size.
	DefaultWindowSize = 1 << 20

	// MinWindowSize is the smallest window size an encoder accepts.
	MinWindowSize = 16

	// DefaultBlockSize is the default size of source blocks.
	DefaultBlockSize = 1 << 17

	// DefaultSourceWindow is how far past the current target position the
	// encoder reads the source by default.
	DefaultSourceWindow = 1 << 26
)

// Config configures a Stream. The zero value is usable and selects the
// defaults.
type Config struct {
	// WindowSize is the number of target bytes the encoder puts in each
	// window. The default is 1 MiB, or MaxWindowSize if that is smaller.
	WindowSize int `yaml:"window_size"`

	// MaxWindowSize bounds the target windows the decoder accepts, and
	// with them its memory use. The default is 16 MiB.
	MaxWindowSize int `yaml:"max_window_size"`

	Flags Flags `yaml:"flags"`

	// Level selects the compression level, from 1 (fastest) to 9. Zero
	// means to use the level in Flags, or DefaultLevel if there is none.
	Level int `yaml:"level"`

	// Secondary names the compressor applied to the sections of each
	// window (see the secondary package). Empty means none.
	Secondary string `yaml:"secondary"`

	// AppHeader is written in the file header when encoding.
	AppHeader string `yaml:"app_header"`

	// Source configures the source used by the Writer and PatchWriter
	// helpers. Streams take their Source from SetSource instead.
	Source SourceConfig `yaml:"source"`
}

// SourceConfig configures a Source.
type SourceConfig struct {
	// BlockSize is the size of the blocks the source is read in. It must
	// be a power of two. The default is 128 KiB.
	BlockSize int `yaml:"block_size"`

	// MaxWindow is how far ahead of the current target position the
	// encoder indexes the source. The default is 64 MiB.
	MaxWindow int64 `yaml:"max_window"`

	// Size is the length of the source, if known. Zero means unknown;
	// the end of the source is then found from the first short block.
	Size int64 `yaml:"size"`
}

func (c Config) withDefaults() Config {
	if c.MaxWindowSize == 0 {
		c.MaxWindowSize = vcdiff.HardMaxWindowSize
	}
	if c.WindowSize == 0 {
		c.WindowSize = min(DefaultWindowSize, c.MaxWindowSize)
	}
	if c.Level == 0 {
		c.Level = c.Flags.Level()
	}
	if c.Level == 0 {
		c.Level = DefaultLevel
	}
	c.Flags = c.Flags.WithLevel(c.Level)
	return c
}

// Validate reports whether c describes a usable stream.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.WindowSize < MinWindowSize:
		return configError("window size %d is smaller than %d", c.WindowSize, MinWindowSize)
	case c.MaxWindowSize < MinWindowSize || c.MaxWindowSize > vcdiff.HardMaxWindowSize:
		return configError("max window size %d out of range", c.MaxWindowSize)
	case c.WindowSize > c.MaxWindowSize:
		return configError("window size %d exceeds the maximum %d", c.WindowSize, c.MaxWindowSize)
	case c.Level < 1 || c.Level > 9:
		return configError("compression level %d out of range", c.Level)
	case c.Flags&^allFlags != 0:
		return configError("unknown flags %#x", uint32(c.Flags&^allFlags))
	case c.Flags&FlagXXH32 != 0 && c.Flags&(FlagAdler32|FlagAdler32Recode) != 0:
		return configError("flags select two checksums")
	case c.Flags&FlagJustHeader != 0 && c.Flags&FlagFlush != 0:
		return configError("FlagJustHeader and FlagFlush apply to different directions")
	}
	if c.Secondary != "" && secondary.ByName(c.Secondary) == nil {
		return configError("unknown secondary compressor %q (available: %s)", c.Secondary, strings.Join(secondary.Names(), ", "))
	}
	if len(c.AppHeader) > vcdiff.HardMaxWindowSize {
		return configError("application header is %d bytes", len(c.AppHeader))
	}
	return nil
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.MaxWindow == 0 {
		c.MaxWindow = DefaultSourceWindow
	}
	return c
}

// Validate reports whether c describes a usable source.
func (c SourceConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.BlockSize < MinWindowSize || bits.OnesCount(uint(c.BlockSize)) != 1:
		return configError("source block size %d is not a power of two of at least %d", c.BlockSize, MinWindowSize)
	case c.MaxWindow < int64(c.BlockSize):
		return configError("source window %d is smaller than a block", c.MaxWindow)
	case c.Size < 0 || c.Size > vcdiff.MaxSourceOffset:
		return configError("source size %d out of range", c.Size)
	}
	return nil
}

// LoadConfig reads a YAML configuration and validates it.
func LoadConfig(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	if err := c.Source.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var flagNames = map[string]Flags{
	"just_header":      FlagJustHeader,
	"skip_window":      FlagSkipWindow,
	"skip_emit":        FlagSkipEmit,
	"flush":            FlagFlush,
	"sec_nodata":       FlagSecNoData,
	"sec_noinst":       FlagSecNoInst,
	"sec_noaddr":       FlagSecNoAddr,
	"adler32":          FlagAdler32,
	"adler32_noverify": FlagAdler32NoVerify,
	"alt_code_table":   FlagAltCodeTable,
	"nocompress":       FlagNoCompress,
	"be_greedy":        FlagBeGreedy,
	"adler32_recode":   FlagAdler32Recode,
	"xxh32":            FlagXXH32,
}

// ParseFlag returns the flag with the given name, as used in YAML
// configuration ("adler32", "skip_emit", ...).
func ParseFlag(name string) (Flags, error) {
	f, ok := flagNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, configError("unknown flag %q", name)
	}
	return f, nil
}

// Names returns the names of the flags set in f, sorted. The compression
// level is not included.
func (f Flags) Names() []string {
	var names []string
	for name, v := range flagNames {
		if f&v != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f Flags) String() string {
	s := strings.Join(f.Names(), "|")
	if l := f.Level(); l != 0 {
		if s != "" {
			s += "|"
		}
		s += "level" + strconv.Itoa(l)
	}
	if s == "" {
		return "0"
	}
	return s
}

// UnmarshalYAML accepts an integer, a single flag name, or a list of flag
// names.
func (f *Flags) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if n, err := strconv.ParseUint(value.Value, 0, 32); err == nil {
			*f = Flags(n)
			return nil
		}
		v, err := ParseFlag(value.Value)
		if err != nil {
			return err
		}
		*f = v
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		var all Flags
		for _, name := range names {
			v, err := ParseFlag(name)
			if err != nil {
				return err
			}
			all |= v
		}
		*f = all
		return nil
	}
	return fmt.Errorf("line %d: flags must be a number, a name or a list of names", value.Line)
}

// MarshalYAML writes f as a list of names.
func (f Flags) MarshalYAML() (interface{}, error) {
	if f.Level() != 0 {
		return uint32(f), nil
	}
	return f.Names(), nil
}
