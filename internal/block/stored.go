package block

import (
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// decodeStored validates and copies an uncompressed block.
func decodeStored(data []byte, uncompressedLen int) ([]byte, error) {
	if len(data) != uncompressedLen {
		return nil, fmt.Errorf("%w: stored block length mismatch: declared %d, got %d",
			uaerr.ErrCodec, uncompressedLen, len(data))
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// encodeStored is the identity transform; stored blocks never grow.
func encodeStored(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
