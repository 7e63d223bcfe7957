package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Unity's LZMA encoder parameters (spec §4.1). Mismatching any of these
// produces a bundle that won't byte-match the reference encoder's output,
// even though it will still decode correctly.
const (
	lzmaDictCap = 0x0080_0000
	lzmaLC      = 3
	lzmaLP      = 0
	lzmaPB      = 2
)

// lzmaHeaderLen is the size of the properties header Unity stores in front
// of the raw LZMA1 stream: one properties byte plus a 4-byte little-endian
// dictionary size. Unlike the classic .lzma container format, there is no
// size field and no end-of-stream marker; the uncompressed length is always
// known from the surrounding block-info.
const lzmaHeaderLen = 5

// decodeLZMA decompresses a Unity-style LZMA block. The block's own 5-byte
// header is trusted for properties and dictionary size (it always matches
// lzmaLC/lzmaLP/lzmaPB/lzmaDictCap for bundles from the reference encoder,
// but a decoder shouldn't assume that). Since ulikunitz/xz/lzma only reads
// the classic 13-byte .lzma header (properties + dict size + uncompressed
// size), the missing size field is synthesized from uncompressedLen before
// handing the stream to the library — the same technique
// ZaparooProject-go-gameid's CHD LZMA codec uses for MAME's headerless LZMA
// hunks.
func decodeLZMA(compressed []byte, uncompressedLen int) ([]byte, error) {
	if len(compressed) < lzmaHeaderLen {
		return nil, fmt.Errorf("%w: lzma block shorter than header (%d bytes)", uaerr.ErrCodec, len(compressed))
	}

	header := make([]byte, 13)
	copy(header[0:5], compressed[0:5])
	binary.LittleEndian.PutUint64(header[5:13], uint64(uncompressedLen))

	full := make([]byte, 0, len(header)+len(compressed)-lzmaHeaderLen)
	full = append(full, header...)
	full = append(full, compressed[lzmaHeaderLen:]...)

	r, err := lzma.NewReader(bytes.NewReader(full))
	if err != nil {
		return nil, fmt.Errorf("%w: lzma reader init: %w", uaerr.ErrCodec, err)
	}

	dst := make([]byte, uncompressedLen)
	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: lzma decode: %w", uaerr.ErrCodec, err)
	}
	if n != uncompressedLen {
		return nil, fmt.Errorf("%w: lzma decode length mismatch: declared %d, got %d",
			uaerr.ErrCodec, uncompressedLen, n)
	}

	return dst, nil
}

// encodeLZMA compresses with Unity's fixed parameter set. ulikunitz/xz/lzma
// always writes the classic 13-byte header (properties + dict size +
// uncompressed size) when SizeInHeader is set; Unity's on-disk shape only
// wants the first 5 of those bytes, so the 8-byte size field is stripped
// after encoding instead of being written at all.
func encodeLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: lzmaLC, LP: lzmaLP, PB: lzmaPB},
		DictCap:      lzmaDictCap,
		Size:         int64(len(data)),
		SizeInHeader: true,
		EOSMarker:    false,
		Matcher:      lzma.BinaryTree,
	}

	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: lzma writer init: %w", uaerr.ErrCodec, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: lzma encode: %w", uaerr.ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: lzma encode close: %w", uaerr.ErrCodec, err)
	}

	full := buf.Bytes()
	if len(full) < 13 {
		return nil, fmt.Errorf("%w: lzma encode produced truncated header", uaerr.ErrCodec)
	}

	out := make([]byte, 0, lzmaHeaderLen+len(full)-13)
	out = append(out, full[0:lzmaHeaderLen]...)
	out = append(out, full[13:]...)
	return out, nil
}
