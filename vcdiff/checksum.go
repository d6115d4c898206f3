package vcdiff

import (
	"hash/adler32"

	"github.com/pierrec/xxHash/xxHash32"
)

// Checksum computes the window checksum selected by the indicator bits ind
// (WinAdler32 or WinXXH32) over the target window.
func Checksum(ind byte, target []byte) uint32 {
	if ind&WinXXH32 != 0 {
		return xxHash32.Checksum(target, 0)
	}
	return adler32.Checksum(target)
}
