package xdelta

import (
	"bytes"
	"io"

	"github.com/valyala/bytebufferpool"
)

// A driver runs a Stream against an io.Writer and an optional source.
type driver struct {
	w   io.Writer
	s   *Stream
	src *Source
	sr  *SourceReader
	err error
}

func (d *driver) init(w io.Writer, s *Stream, source io.ReaderAt, cfg Config) error {
	d.w = w
	d.s = s
	if source == nil {
		return nil
	}
	sc := cfg.Source
	if sized, ok := source.(interface{ Size() int64 }); ok && sc.Size == 0 {
		sc.Size = sized.Size()
	}
	src, err := NewSource(sc)
	if err != nil {
		return err
	}
	d.sr, err = NewSourceReader(source, src.BlockSize(), DefaultCacheBlocks)
	if err != nil {
		return err
	}
	d.src = src
	return s.SetSource(src)
}

// run steps the stream until it needs input or is done.
func (d *driver) run() error {
	if d.err != nil {
		return d.err
	}
	for {
		st, err := d.s.Step()
		if err != nil {
			d.err = err
			return err
		}
		switch st {
		case NeedInput, Done:
			return nil
		case HaveOutput:
			out, err := d.s.Output()
			if err == nil {
				_, err = d.w.Write(out)
			}
			if err == nil {
				err = d.s.AckOutput()
			}
			if err != nil {
				d.err = err
				return err
			}
		case NeedSourceBlock:
			if err := d.sr.Supply(d.src); err != nil {
				d.err = err
				return err
			}
		}
	}
}

func (d *driver) write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := d.s.SupplyInput(p); err != nil {
		d.err = err
		return 0, err
	}
	if err := d.run(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *driver) close() error {
	if d.err != nil {
		return d.err
	}
	if d.s.State() == Done {
		return nil
	}
	if err := d.s.Flush(); err != nil {
		d.err = err
		return err
	}
	if err := d.run(); err != nil {
		return err
	}
	d.s.Close()
	return nil
}

// A Writer is an io.WriteCloser that encodes the target written to it and
// writes the delta to an underlying writer.
type Writer struct {
	driver
}

// NewWriter returns a Writer that writes a delta to w. If source is not
// nil, the delta is computed against it, and the decoder will need the same
// source.
func NewWriter(w io.Writer, source io.ReaderAt, cfg Config) (*Writer, error) {
	s, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	wr := new(Writer)
	if err := wr.init(w, s, source, cfg); err != nil {
		return nil, err
	}
	return wr, nil
}

// Write encodes p. The input does not need to be aligned with windows.
func (w *Writer) Write(p []byte) (int, error) { return w.write(p) }

// Close finishes the delta. It does not close the underlying writer.
func (w *Writer) Close() error { return w.close() }

// A PatchWriter is an io.WriteCloser that decodes the delta written to it
// and writes the target to an underlying writer.
type PatchWriter struct {
	driver
}

// NewPatchWriter returns a PatchWriter that writes the target to w.
func NewPatchWriter(w io.Writer, source io.ReaderAt, cfg Config) (*PatchWriter, error) {
	s, err := NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	pw := new(PatchWriter)
	if err := pw.init(w, s, source, cfg); err != nil {
		return nil, err
	}
	return pw, nil
}

// Write decodes p.
func (w *PatchWriter) Write(p []byte) (int, error) { return w.write(p) }

// Close checks that the delta was complete. It does not close the
// underlying writer.
func (w *PatchWriter) Close() error { return w.close() }

// AppHeader returns the application header of the delta, once the file
// header has been written.
func (w *PatchWriter) AppHeader() []byte { return w.s.AppHeader() }

// EncodeBytes appends to dst a delta that turns source into target. A nil
// source encodes target on its own.
func EncodeBytes(dst, target, source []byte, cfg Config) ([]byte, error) {
	return transform(dst, target, source, cfg, true)
}

// DecodeBytes appends to dst the target reconstructed from delta and
// source.
func DecodeBytes(dst, delta, source []byte, cfg Config) ([]byte, error) {
	return transform(dst, delta, source, cfg, false)
}

func transform(dst, in, source []byte, cfg Config, encode bool) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var r io.ReaderAt
	if source != nil {
		r = bytes.NewReader(source)
	}
	var d *driver
	if encode {
		w, err := NewWriter(buf, r, cfg)
		if err != nil {
			return dst, err
		}
		d = &w.driver
	} else {
		w, err := NewPatchWriter(buf, r, cfg)
		if err != nil {
			return dst, err
		}
		d = &w.driver
	}
	if _, err := d.write(in); err != nil {
		return dst, err
	}
	if err := d.close(); err != nil {
		return dst, err
	}
	return append(dst, buf.B...), nil
}
