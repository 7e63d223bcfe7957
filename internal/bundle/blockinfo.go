package bundle

// ContentHashLen is the size of the opaque hash that leads every block-info
// section. uaedb never interprets it, only preserves it verbatim (spec §9,
// Open Question b).
const ContentHashLen = 16

// Block describes one entry in the block list: its size on both sides of
// compression and the method used for it, independent of the block-info
// section's own compression method.
type Block struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            uint16
}

// Method returns this block's own data-compression method.
func (b Block) Method() int {
	return int(b.Flags & 0x3F)
}

// Entry is one named file embedded in the bundle's concatenated
// uncompressed data stream.
type Entry struct {
	Path   string
	Offset int64
	Size   int64
	Flags  uint32
}

// BlockInfo is the fully decoded block-info section: the opaque content
// hash, the block list, and the entry directory.
type BlockInfo struct {
	ContentHash [ContentHashLen]byte
	Blocks      []Block
	Entries     []Entry
}

// UncompressedDataLen returns the sum of every block's uncompressed size,
// i.e. the length of the concatenated data stream.
func (bi *BlockInfo) UncompressedDataLen() int64 {
	var total int64
	for _, b := range bi.Blocks {
		total += int64(b.UncompressedSize)
	}
	return total
}
