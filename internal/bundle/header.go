// Package bundle parses the UnityFS container: header, block-info table,
// and entry directory, and exposes random-access decode of the data stream
// built from them. See spec §3-4.2.
package bundle

import (
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Signature is the fixed 8-byte magic ("UnityFS" + NUL) every UnityFS
// bundle starts with.
const Signature = "UnityFS\x00"

// MinFormatVersion is the lowest format version this reader accepts.
// Earlier versions predate the block-structured UnityFS container.
const MinFormatVersion = 6

// AlignmentPadMinVersion is the format version at which the 16-byte
// alignment pad bit (data_flags & 0x40) becomes meaningful. Not specified by
// the format itself (spec §9, Open Question a); recorded as a single named
// constant so it is one line to correct against a real bundle corpus.
const AlignmentPadMinVersion = 7

// data_flags bits, independent of the low 6 bits carrying the block-info
// compression method (block.CompMask).
const (
	FlagBlockInfoAtEnd = 0x80
	FlagAlignmentPad   = 0x40
)

// Header is the fixed-layout UnityFS bundle header (spec §3). All numeric
// fields are big-endian on the wire.
type Header struct {
	UnityVersion        string
	GeneratorVersion    string
	FormatVersion       uint32
	TotalSize           int64
	CompressedInfoSize  uint32
	UncompressedInfSize uint32
	DataFlags           uint32
}

// BlockInfoMethod returns the compression method applied to the block-info
// section, independent of any data block's own method.
func (h *Header) BlockInfoMethod() int {
	return int(h.DataFlags & 0x3F)
}

// BlockInfoAtEnd reports whether the block-info section is located at
// total_size - compressed_block_info_size rather than immediately after the
// header.
func (h *Header) BlockInfoAtEnd() bool {
	return h.DataFlags&FlagBlockInfoAtEnd != 0
}

// HasAlignmentPad reports whether an inline block-info section is followed
// by padding to the next 16-byte boundary before the data stream starts.
func (h *Header) HasAlignmentPad() bool {
	return h.DataFlags&FlagAlignmentPad != 0 && h.FormatVersion >= AlignmentPadMinVersion
}

func validateFormatVersion(v uint32) error {
	if v < MinFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d (minimum %d)", uaerr.ErrFormat, v, MinFormatVersion)
	}
	return nil
}
