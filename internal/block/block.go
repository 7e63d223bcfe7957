// Package block implements the per-block compression codec shared by a
// UnityFS bundle's block-info section and its data blocks: stored, LZMA
// (Unity's parameter set), and LZ4/LZ4HC.
package block

import (
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Compression methods, carried in the low 6 bits of data_flags (block-info)
// or block_info_flags (a single data block). The two fields are decoded
// independently and must never be conflated.
const (
	MethodStored = 0
	MethodLZMA   = 1
	MethodLZ4    = 2
	MethodLZ4HC  = 3
)

// CompMask isolates the compression method from the surrounding flags word.
const CompMask = 0x3F

// Decode decompresses a single block. uncompressedLen must be the exact
// declared uncompressed size; both stored and LZ4 decoding fail if the
// result doesn't match it.
func Decode(method int, compressed []byte, uncompressedLen int) ([]byte, error) {
	switch method {
	case MethodStored:
		return decodeStored(compressed, uncompressedLen)
	case MethodLZMA:
		return decodeLZMA(compressed, uncompressedLen)
	case MethodLZ4, MethodLZ4HC:
		return decodeLZ4(compressed, uncompressedLen)
	default:
		return nil, fmt.Errorf("%w: unknown compression method %d", uaerr.ErrCodec, method)
	}
}

// Encode compresses a single block with the given method. LZ4/LZ4HC are
// both encoded as LZ4HC (method 3 is what a rebuilt bundle should declare);
// callers that need to preserve an original method-2 block verbatim should
// do so without re-encoding.
func Encode(method int, data []byte) ([]byte, error) {
	switch method {
	case MethodStored:
		return encodeStored(data)
	case MethodLZMA:
		return encodeLZMA(data)
	case MethodLZ4, MethodLZ4HC:
		return encodeLZ4HC(data)
	default:
		return nil, fmt.Errorf("%w: unknown compression method %d", uaerr.ErrCodec, method)
	}
}
