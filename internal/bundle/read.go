package bundle

import (
	"fmt"
	"sort"

	"github.com/rretrogamerr/uaedb/internal/block"
	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Descriptor is the immutable, fully-parsed view of one bundle: header,
// decoded block-info, and a reference to the source bytes needed to decode
// the data stream on demand. A Descriptor never outlives the byte slice it
// was parsed from; Rebuild always produces a brand-new byte stream instead
// of mutating one in place (spec §3, Lifecycle).
type Descriptor struct {
	Header Header
	Info   BlockInfo
	Source []byte

	// DataStart/DataEnd bound the compressed data stream within Source.
	DataStart int64
	DataEnd   int64
}

// Parse reads and validates a UnityFS bundle's header, block-info table, and
// entry directory (spec §4.2, step 1-3). The whole bundle is held in memory;
// decompression of the data stream is deferred to DecompressDataStream.
func Parse(source []byte) (*Descriptor, error) {
	d, err := ParseLenient(source)
	if err != nil {
		return nil, err
	}
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseLenient parses header and block-info structurally but skips the
// invariant checks Parse enforces. The full-bundle patch orchestrator needs
// this split: when a patched bundle's block-info disagrees with its actual
// payload (spec §4.5 step 3-4), it still needs DataStart/DataEnd and the
// (untrustworthy) entry directory to run the raw fallback, which Parse's
// hard failure would otherwise make unreachable.
func ParseLenient(source []byte) (*Descriptor, error) {
	c := &cursor{data: source}

	sig, err := c.bytes(int64(len(Signature)))
	if err != nil {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	if string(sig) != Signature {
		return nil, fmt.Errorf("%w: bad signature %q", uaerr.ErrFormat, sig)
	}

	formatVersion, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading format version: %w", err)
	}
	if err := validateFormatVersion(formatVersion); err != nil {
		return nil, err
	}

	unityVersion, err := c.cstring()
	if err != nil {
		return nil, fmt.Errorf("reading unity version: %w", err)
	}
	generatorVersion, err := c.cstring()
	if err != nil {
		return nil, fmt.Errorf("reading generator version: %w", err)
	}

	totalSize, err := c.u64()
	if err != nil {
		return nil, fmt.Errorf("reading total size: %w", err)
	}
	compressedInfoSize, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading compressed block-info size: %w", err)
	}
	uncompressedInfoSize, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading uncompressed block-info size: %w", err)
	}
	dataFlags, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading data flags: %w", err)
	}

	header := Header{
		UnityVersion:        unityVersion,
		GeneratorVersion:    generatorVersion,
		FormatVersion:       formatVersion,
		TotalSize:           int64(totalSize),
		CompressedInfoSize:  compressedInfoSize,
		UncompressedInfSize: uncompressedInfoSize,
		DataFlags:           dataFlags,
	}

	if header.TotalSize > int64(len(source)) {
		return nil, fmt.Errorf("%w: declared total size %d exceeds available %d bytes",
			uaerr.ErrFormat, header.TotalSize, len(source))
	}

	var infoStart, dataStart, dataEnd int64
	if header.BlockInfoAtEnd() {
		infoStart = header.TotalSize - int64(header.CompressedInfoSize)
		dataStart = c.pos
		dataEnd = infoStart
	} else {
		infoStart = c.pos
		dataStart = infoStart + int64(header.CompressedInfoSize)
		if header.HasAlignmentPad() {
			dataStart = alignUp16(dataStart)
		}
		dataEnd = header.TotalSize
	}

	if infoStart < 0 || infoStart+int64(header.CompressedInfoSize) > int64(len(source)) {
		return nil, fmt.Errorf("%w: block-info section [%d, %d) out of bounds",
			uaerr.ErrFormat, infoStart, infoStart+int64(header.CompressedInfoSize))
	}
	if dataStart < 0 || dataEnd < dataStart || dataEnd > int64(len(source)) {
		return nil, fmt.Errorf("%w: data stream bounds [%d, %d) invalid", uaerr.ErrFormat, dataStart, dataEnd)
	}

	compressedInfo := source[infoStart : infoStart+int64(header.CompressedInfoSize)]
	rawInfo, err := block.Decode(header.BlockInfoMethod(), compressedInfo, int(header.UncompressedInfSize))
	if err != nil {
		return nil, fmt.Errorf("decoding block-info: %w", err)
	}

	info, err := parseBlockInfo(rawInfo)
	if err != nil {
		return nil, fmt.Errorf("parsing block-info: %w", err)
	}

	d := &Descriptor{
		Header:    header,
		Info:      *info,
		Source:    source,
		DataStart: dataStart,
		DataEnd:   dataEnd,
	}

	return d, nil
}

// Validate checks the consistency properties spec §3/§8 require of a parsed
// bundle: entry offsets and sizes must fall within the declared data stream,
// and no two entries may share a path. Parse calls this automatically;
// ParseLenient callers that need to handle an inconsistent bundle (the
// full-bundle raw-fallback path, spec §4.5 step 3-4) call it explicitly to
// decide whether the block-info can be trusted.
func Validate(d *Descriptor) error {
	return validateInvariants(d)
}

func alignUp16(n int64) int64 {
	return (n + 15) &^ 15
}

// validateInvariants checks that every entry's range is non-negative and
// fits inside the sum of the blocks' uncompressed sizes, and that entry
// paths are unique. It does not compare the block list against the bytes of
// the data region; a block whose decoded length differs from its declared
// size is reported by DecompressDataStream instead.
func validateInvariants(d *Descriptor) error {
	declaredLen := d.Info.UncompressedDataLen()

	seen := make(map[string]struct{}, len(d.Info.Entries))
	for _, e := range d.Info.Entries {
		if e.Offset < 0 || e.Size < 0 {
			return fmt.Errorf("%w: entry %q has negative offset/size", uaerr.ErrFormat, e.Path)
		}
		if e.Offset+e.Size > declaredLen {
			return fmt.Errorf("%w: entry %q range [%d, %d) exceeds data length %d",
				uaerr.ErrFormat, e.Path, e.Offset, e.Offset+e.Size, declaredLen)
		}
		if _, dup := seen[e.Path]; dup {
			return fmt.Errorf("%w: duplicate entry path %q", uaerr.ErrFormat, e.Path)
		}
		seen[e.Path] = struct{}{}
	}

	return nil
}

func parseBlockInfo(raw []byte) (*BlockInfo, error) {
	c := &cursor{data: raw}

	hashBytes, err := c.bytes(ContentHashLen)
	if err != nil {
		return nil, fmt.Errorf("reading content hash: %w", err)
	}

	info := &BlockInfo{}
	copy(info.ContentHash[:], hashBytes)

	blockCount, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading block count: %w", err)
	}
	info.Blocks = make([]Block, blockCount)
	for i := range info.Blocks {
		uSize, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("reading block %d uncompressed size: %w", i, err)
		}
		cSize, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("reading block %d compressed size: %w", i, err)
		}
		flags, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("reading block %d flags: %w", i, err)
		}
		info.Blocks[i] = Block{UncompressedSize: uSize, CompressedSize: cSize, Flags: flags}
	}

	entryCount, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	info.Entries = make([]Entry, entryCount)
	for i := range info.Entries {
		offset, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("reading entry %d offset: %w", i, err)
		}
		size, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("reading entry %d size: %w", i, err)
		}
		flags, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("reading entry %d flags: %w", i, err)
		}
		path, err := c.cstring()
		if err != nil {
			return nil, fmt.Errorf("reading entry %d path: %w", i, err)
		}
		info.Entries[i] = Entry{Path: path, Offset: int64(offset), Size: int64(size), Flags: flags}
	}

	return info, nil
}

// DecompressDataStream decodes every block in order and concatenates them
// into the bundle's full uncompressed payload (spec §4.2).
func (d *Descriptor) DecompressDataStream() ([]byte, error) {
	out := make([]byte, 0, d.Info.UncompressedDataLen())
	pos := d.DataStart

	for i, b := range d.Info.Blocks {
		if pos+int64(b.CompressedSize) > d.DataEnd {
			return nil, fmt.Errorf("%w: block %d compressed range exceeds data stream bounds", uaerr.ErrFormat, i)
		}
		compressed := d.Source[pos : pos+int64(b.CompressedSize)]

		decoded, err := block.Decode(b.Method(), compressed, int(b.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("decoding block %d: %w", i, err)
		}

		out = append(out, decoded...)
		pos += int64(b.CompressedSize)
	}

	return out, nil
}

// ExtractEntry decompresses the full data stream and slices out one named
// entry.
func (d *Descriptor) ExtractEntry(path string) ([]byte, error) {
	data, err := d.DecompressDataStream()
	if err != nil {
		return nil, err
	}

	for _, e := range d.Info.Entries {
		if e.Path == path {
			if e.Offset+e.Size > int64(len(data)) {
				return nil, fmt.Errorf("%w: entry %q range exceeds decoded data length", uaerr.ErrFormat, path)
			}
			return data[e.Offset : e.Offset+e.Size], nil
		}
	}

	return nil, fmt.Errorf("%w: no entry named %q", uaerr.ErrResolution, path)
}

// ListEntries returns every entry path in the bundle's directory order.
func (d *Descriptor) ListEntries() []string {
	out := make([]string, len(d.Info.Entries))
	for i, e := range d.Info.Entries {
		out[i] = e.Path
	}
	return out
}

// SortedEntries returns a copy of the entry directory sorted by path, for
// stable CLI listing output (SPEC_FULL.md domain-stack addition 3).
func (d *Descriptor) SortedEntries() []Entry {
	out := make([]Entry, len(d.Info.Entries))
	copy(out, d.Info.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
