package xdelta

import (
	"bytes"
	"errors"
	"testing"
)

func TestSourceBlocks(t *testing.T) {
	src, err := NewSource(SourceConfig{BlockSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	if src.RequestedBlock() != 0 || src.CurrentBlock() != -1 {
		t.Fatalf("new source: requested %d, current %d", src.RequestedBlock(), src.CurrentBlock())
	}
	if _, ok := src.Size(); ok {
		t.Fatal("size known before any block was supplied")
	}

	// A block may be supplied before it is asked for.
	full := bytes.Repeat([]byte{1}, 16)
	if err := src.Supply(0, full); err != nil {
		t.Fatal(err)
	}
	if b, ok := src.block(0); !ok || !bytes.Equal(b, full) {
		t.Fatal("supplied block not resident")
	}

	// A request hides whatever was resident.
	src.request(2)
	if _, ok := src.block(0); ok {
		t.Fatal("block 0 still visible after a request for block 2")
	}
	if src.RequestedBlock() != 2 || src.CurrentBlock() != -1 {
		t.Fatalf("after request: requested %d, current %d", src.RequestedBlock(), src.CurrentBlock())
	}

	if err := src.Supply(2, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if size, ok := src.Size(); !ok || size != 35 {
		t.Fatalf("size %d %v, want 35", size, ok)
	}
	if !src.pastEnd(35) || src.pastEnd(34) {
		t.Fatal("pastEnd disagrees with the size")
	}
	if blkno, i := src.split(34); blkno != 2 || i != 2 {
		t.Fatalf("split(34) = %d, %d", blkno, i)
	}
}

func TestSourceSupplyErrors(t *testing.T) {
	src, err := NewSource(SourceConfig{BlockSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Supply(0, make([]byte, 17)); !errors.Is(err, ErrProtocol) {
		t.Errorf("oversized block: %v", err)
	}
	if err := src.Supply(-1, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("negative block number: %v", err)
	}
}

func TestSourceConfiguredSize(t *testing.T) {
	src, err := NewSource(SourceConfig{BlockSize: 16, Size: 20})
	if err != nil {
		t.Fatal(err)
	}
	if size, ok := src.Size(); !ok || size != 20 {
		t.Fatalf("size %d %v", size, ok)
	}
}

func TestSourceOneStream(t *testing.T) {
	src, _ := NewSource(SourceConfig{})
	a, _ := NewEncoder(Config{})
	b, _ := NewDecoder(Config{})
	if err := a.SetSource(src); err != nil {
		t.Fatal(err)
	}
	if err := b.SetSource(src); !errors.Is(err, ErrProtocol) {
		t.Fatalf("second stream took the source: %v", err)
	}
	a.Close()
	if err := b.SetSource(src); err != nil {
		t.Fatalf("source not released by Close: %v", err)
	}
}

func TestSourceSizeFromRequestedBlock(t *testing.T) {
	src, err := NewSource(SourceConfig{BlockSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	src.request(3)
	if err := src.Supply(1, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if size, ok := src.Size(); ok {
		t.Fatalf("size %d learned from block 1 while block 3 was requested", size)
	}
	if err := src.Supply(3, make([]byte, 5)); err != nil {
		t.Fatal(err)
	}
	if size, ok := src.Size(); !ok || size != 53 {
		t.Fatalf("size %d %v, want 53", size, ok)
	}
}
