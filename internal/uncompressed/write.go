// Package uncompressed produces the ".decomp" shape of a UnityFS bundle:
// header, block-info, and every data block all stored uncompressed. It is
// both a user-visible output (--uncompress) and the deterministic
// intermediate full-bundle patch mode runs the external patcher against
// (spec §4.3, §6).
package uncompressed

import (
	"bytes"
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/block"
	"github.com/rretrogamerr/uaedb/internal/bundle"
)

// Write assembles an uncompressed bundle from a source descriptor and its
// decompressed data stream. The block partition (block count and individual
// uncompressed sizes), the content hash, and the entry directory are all
// preserved verbatim from the source; only the compression method and the
// resulting sizes change.
func Write(d *bundle.Descriptor, data []byte) ([]byte, error) {
	if int64(len(data)) != d.Info.UncompressedDataLen() {
		return nil, fmt.Errorf("uncompressed writer: data length %d does not match declared block sum %d",
			len(data), d.Info.UncompressedDataLen())
	}

	newInfo := bundle.BlockInfo{
		ContentHash: d.Info.ContentHash,
		Entries:     d.Info.Entries,
		Blocks:      make([]bundle.Block, len(d.Info.Blocks)),
	}
	for i, b := range d.Info.Blocks {
		newInfo.Blocks[i] = bundle.Block{
			UncompressedSize: b.UncompressedSize,
			CompressedSize:   b.UncompressedSize, // stored: compressed == uncompressed
			Flags:            uint16(block.MethodStored),
		}
	}

	rawInfo, err := bundle.EncodeBlockInfo(&newInfo)
	if err != nil {
		return nil, fmt.Errorf("encoding block-info: %w", err)
	}

	header := d.Header
	header.DataFlags = uint32(block.MethodStored) // clears COMP_MASK and the end-placement bit
	header.UncompressedInfSize = uint32(len(rawInfo))
	header.CompressedInfoSize = uint32(len(rawInfo)) // stored: equal to uncompressed
	if d.Header.HasAlignmentPad() {
		header.DataFlags |= bundle.FlagAlignmentPad
	}

	var headerBuf bytes.Buffer
	if err := bundle.WriteHeader(&headerBuf, &header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	var out bytes.Buffer
	out.Write(headerBuf.Bytes())
	out.Write(rawInfo)

	if header.HasAlignmentPad() {
		pad := alignPad(int64(out.Len()))
		out.Write(make([]byte, pad))
	}

	out.Write(data)

	header.TotalSize = int64(out.Len())

	final := make([]byte, 0, out.Len())
	var rewritten bytes.Buffer
	if err := bundle.WriteHeader(&rewritten, &header); err != nil {
		return nil, fmt.Errorf("rewriting header: %w", err)
	}
	final = append(final, rewritten.Bytes()...)
	final = append(final, out.Bytes()[headerBuf.Len():]...)

	return final, nil
}

func alignPad(n int64) int64 {
	aligned := (n + 15) &^ 15
	return aligned - n
}
