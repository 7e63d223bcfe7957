// Package rebuild re-emits a compressed UnityFS bundle from a (possibly new)
// uncompressed data stream and an original bundle's metadata, reusing the
// original block partition when possible and writing the caller's
// replacement entry directory, as given, when one is supplied (spec §4.4).
package rebuild

import (
	"bytes"
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/block"
	"github.com/rretrogamerr/uaedb/internal/bundle"
	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// ChunkSize is the fixed re-chunk block size used whenever the new data
// stream's length differs from the original's. Reference encoders always
// use 128 KiB; implementers must not try to be cleverer about it (spec §9).
const ChunkSize = 0x20000

// Rebuild produces a new compressed UnityFS bundle byte stream.
// newEntries may be nil, in which case the original entry directory is kept
// verbatim (an unresized entry-mode splice does this; the full-bundle patch
// path passes the patched bundle's own directory). forceRechunk skips the preserved-layout fast path and
// always re-chunks at ChunkSize even when newData's length matches the
// original — the full-bundle raw fallback (spec §4.5 step 4) needs this
// because the original block boundaries cannot be trusted for data whose
// block-info just failed validation.
func Rebuild(original *bundle.Descriptor, newData []byte, newEntries []bundle.Entry, forceRechunk bool) ([]byte, error) {
	entries := newEntries
	if entries == nil {
		entries = original.Info.Entries
	}

	newBlocks, encoded, err := planBlocks(original, newData, forceRechunk)
	if err != nil {
		return nil, err
	}

	info := bundle.BlockInfo{
		ContentHash: original.Info.ContentHash,
		Blocks:      newBlocks,
		Entries:     entries,
	}

	rawInfo, err := bundle.EncodeBlockInfo(&info)
	if err != nil {
		return nil, fmt.Errorf("encoding block-info: %w", err)
	}

	infoMethod := original.Header.BlockInfoMethod()
	compressedInfo, err := block.Encode(infoMethod, rawInfo)
	if err != nil {
		return nil, fmt.Errorf("compressing block-info: %w", err)
	}

	header := original.Header
	header.UncompressedInfSize = uint32(len(rawInfo)) //nolint:gosec // block-info sizes fit uint32 by format definition.
	header.CompressedInfoSize = uint32(len(compressedInfo))

	return assemble(&header, compressedInfo, encoded)
}

// planBlocks decides the output block partition and compression per spec
// §4.4's layout and compression policies, then encodes every block.
func planBlocks(original *bundle.Descriptor, newData []byte, forceRechunk bool) ([]bundle.Block, [][]byte, error) {
	if !forceRechunk && int64(len(newData)) == original.Info.UncompressedDataLen() {
		return planPreservedLayout(original, newData)
	}
	return planRechunked(original, newData)
}

func planPreservedLayout(original *bundle.Descriptor, newData []byte) ([]bundle.Block, [][]byte, error) {
	blocks := make([]bundle.Block, len(original.Info.Blocks))
	encoded := make([][]byte, len(original.Info.Blocks))

	pos := int64(0)
	for i, ob := range original.Info.Blocks {
		uSize := int64(ob.UncompressedSize)
		chunk := newData[pos : pos+uSize]

		enc, method, err := encodeWithFallback(ob.Method(), chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding block %d: %w", i, err)
		}

		blocks[i] = bundle.Block{
			UncompressedSize: ob.UncompressedSize,
			CompressedSize:   uint32(len(enc)), //nolint:gosec // compressed block sizes fit uint32 by format definition.
			Flags:            uint16(method),
		}
		encoded[i] = enc
		pos += uSize
	}

	return blocks, encoded, nil
}

func planRechunked(original *bundle.Descriptor, newData []byte) ([]bundle.Block, [][]byte, error) {
	var chunks [][]byte
	for pos := int64(0); pos < int64(len(newData)); pos += ChunkSize {
		end := pos + ChunkSize
		if end > int64(len(newData)) {
			end = int64(len(newData))
		}
		chunks = append(chunks, newData[pos:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	blocks := make([]bundle.Block, len(chunks))
	encoded := make([][]byte, len(chunks))

	for i, chunk := range chunks {
		method := methodForNewBlock(original, int64(i)*ChunkSize)

		enc, usedMethod, err := encodeWithFallback(method, chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding re-chunked block %d: %w", i, err)
		}

		blocks[i] = bundle.Block{
			UncompressedSize: uint32(len(chunk)), //nolint:gosec // re-chunked blocks are bounded by ChunkSize.
			CompressedSize:   uint32(len(enc)),    //nolint:gosec // compressed block sizes fit uint32 by format definition.
			Flags:            uint16(usedMethod),
		}
		encoded[i] = enc
	}

	return blocks, encoded, nil
}

// methodForNewBlock finds the method of the original block whose range
// covers firstByteOffset; if the new layout has more blocks than the
// original did, it defaults to LZ4HC (spec §4.4, Block compression policy).
func methodForNewBlock(original *bundle.Descriptor, firstByteOffset int64) int {
	pos := int64(0)
	for _, ob := range original.Info.Blocks {
		end := pos + int64(ob.UncompressedSize)
		if firstByteOffset >= pos && firstByteOffset < end {
			return ob.Method()
		}
		pos = end
	}
	return block.MethodLZ4HC
}

// encodeWithFallback encodes with the requested method, falling back to
// stored when LZ4HC refuses an incompressible chunk — the block codec
// reports that case distinctly so callers can choose a policy instead of
// failing the whole rebuild over one unlucky block.
func encodeWithFallback(method int, data []byte) (encoded []byte, usedMethod int, err error) {
	enc, err := block.Encode(method, data)
	if err == nil {
		return enc, method, nil
	}
	if method == block.MethodLZ4 || method == block.MethodLZ4HC {
		stored, storedErr := block.Encode(block.MethodStored, data)
		if storedErr == nil {
			return stored, block.MethodStored, nil
		}
	}
	return nil, 0, err
}

// assemble writes the final bundle, choosing end-placed vs inline block-info
// layout by copying the original header's choice (spec §4.4, Header
// emission), and rewrites the size fields afterward.
func assemble(header *bundle.Header, compressedInfo []byte, encodedBlocks [][]byte) ([]byte, error) {
	var data bytes.Buffer
	for i, b := range encodedBlocks {
		if _, err := data.Write(b); err != nil {
			return nil, fmt.Errorf("writing block %d: %w", i, err)
		}
	}

	var out bytes.Buffer

	if header.BlockInfoAtEnd() {
		header.TotalSize = 0 // placeholder, corrected below
		if err := bundle.WriteHeader(&out, header); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
		out.Write(data.Bytes())
		out.Write(compressedInfo)
	} else {
		if err := bundle.WriteHeader(&out, header); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
		out.Write(compressedInfo)
		if header.HasAlignmentPad() {
			pad := alignPad(int64(out.Len()))
			out.Write(make([]byte, pad))
		}
		out.Write(data.Bytes())
	}

	header.TotalSize = int64(out.Len())

	var final bytes.Buffer
	if err := bundle.WriteHeader(&final, header); err != nil {
		return nil, fmt.Errorf("rewriting header: %w", err)
	}

	result := out.Bytes()
	headerLen := final.Len()
	if headerLen > len(result) {
		return nil, fmt.Errorf("%w: rebuilt header longer than bundle", uaerr.ErrFormat)
	}

	rewritten := append(final.Bytes(), result[headerLen:]...)
	return rewritten, nil
}

func alignPad(n int64) int64 {
	aligned := (n + 15) &^ 15
	return aligned - n
}
