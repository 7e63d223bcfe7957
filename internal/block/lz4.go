package block

import (
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// maxBlockSize bounds a single UnityFS data block; the LZ4 block format (not
// the frame format) has no implicit upper bound of its own, but Unity never
// emits blocks larger than this and the encoder refuses to produce one.
const maxBlockSize = 1 << 24

// decodeLZ4 decompresses a raw LZ4 block (not the LZ4 frame format) to
// exactly uncompressedLen bytes. Unity uses methods 2 and 3 for the same
// wire format; only the encoder's chosen effort differs.
func decodeLZ4(compressed []byte, uncompressedLen int) ([]byte, error) {
	dst := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4 decode: %w", uaerr.ErrCodec, err)
	}
	if n != uncompressedLen {
		return nil, fmt.Errorf("%w: lz4 decode length mismatch: declared %d, got %d",
			uaerr.ErrCodec, uncompressedLen, n)
	}
	return dst, nil
}

// encodeLZ4HC compresses with LZ4HC, the "Encode32HC" setting Unity's
// reference encoder uses. pierrec/lz4's CompressionLevel 0 selects the
// library's default high-compression search, the same choice the teacher's
// EDDS mipmap compressor makes for its own LZ4HC blocks.
func encodeLZ4HC(data []byte) ([]byte, error) {
	if len(data) > maxBlockSize {
		return nil, fmt.Errorf("%w: lz4 encode: input %d bytes exceeds block bound", uaerr.ErrCodec, len(data))
	}

	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)

	n, err := lz4.CompressBlockHC(data, dst, 0, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4hc encode: %w", uaerr.ErrCodec, err)
	}
	if n == 0 {
		// Incompressible input: pierrec/lz4 returns n == 0 rather than an
		// error when the compressed form wouldn't fit in dst. Unity's format
		// has no "store raw inside a compressed block" fallback, so the
		// caller must fall back to method 0 for this block instead.
		return nil, fmt.Errorf("%w: lz4hc encode: incompressible block", uaerr.ErrCodec)
	}
	if n > bound {
		return nil, fmt.Errorf("%w: lz4hc encode: result %d bytes exceeds block bound %d", uaerr.ErrCodec, n, bound)
	}

	return dst[:n], nil
}
