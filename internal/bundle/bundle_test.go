package bundle

import (
	"bytes"
	"testing"

	"github.com/rretrogamerr/uaedb/internal/block"
)

// buildTestBundle assembles a minimal single-block bundle for exercising
// the reader, mirroring the layout internal/rebuild and cmd/uaedb-fixture
// both produce.
func buildTestBundle(t *testing.T, data []byte, entries []Entry, method int, atEnd bool) []byte {
	t.Helper()

	encoded, err := block.Encode(method, data)
	if err != nil {
		t.Fatalf("block.Encode: %v", err)
	}

	info := BlockInfo{
		Blocks: []Block{{
			UncompressedSize: uint32(len(data)),
			CompressedSize:   uint32(len(encoded)),
			Flags:            uint16(method),
		}},
		Entries: entries,
	}

	rawInfo, err := EncodeBlockInfo(&info)
	if err != nil {
		t.Fatalf("EncodeBlockInfo: %v", err)
	}
	compressedInfo, err := block.Encode(method, rawInfo)
	if err != nil {
		t.Fatalf("compress block-info: %v", err)
	}

	dataFlags := uint32(method)
	if atEnd {
		dataFlags |= FlagBlockInfoAtEnd
	}

	header := Header{
		UnityVersion:        "2021.3.0f1",
		GeneratorVersion:    "bundle_test",
		FormatVersion:       MinFormatVersion,
		CompressedInfoSize:  uint32(len(compressedInfo)),
		UncompressedInfSize: uint32(len(rawInfo)),
		DataFlags:           dataFlags,
	}

	var out bytes.Buffer
	if err := WriteHeader(&out, &header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	headerLen := out.Len()

	if atEnd {
		out.Write(encoded)
		out.Write(compressedInfo)
	} else {
		out.Write(compressedInfo)
		out.Write(encoded)
	}

	header.TotalSize = int64(out.Len())
	var final bytes.Buffer
	if err := WriteHeader(&final, &header); err != nil {
		t.Fatalf("rewriting header: %v", err)
	}
	if final.Len() != headerLen {
		t.Fatalf("header length changed after rewriting total size: %d != %d", final.Len(), headerLen)
	}

	return append(final.Bytes(), out.Bytes()[headerLen:]...)
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	data := []byte("hello unityfs world, this is test payload data")
	entries := []Entry{
		{Path: "CAB-1/a.bin", Offset: 0, Size: 20},
		{Path: "CAB-1/b.bin", Offset: 20, Size: int64(len(data)) - 20},
	}

	for _, tc := range []struct {
		name   string
		method int
		atEnd  bool
	}{
		{"stored-inline", block.MethodStored, false},
		{"lz4-inline", block.MethodLZ4, false},
		{"lz4hc-at-end", block.MethodLZ4HC, true},
		{"lzma-inline", block.MethodLZMA, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := buildTestBundle(t, data, entries, tc.method, tc.atEnd)

			d, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if d.Header.BlockInfoAtEnd() != tc.atEnd {
				t.Fatalf("BlockInfoAtEnd() = %v, want %v", d.Header.BlockInfoAtEnd(), tc.atEnd)
			}

			stream, err := d.DecompressDataStream()
			if err != nil {
				t.Fatalf("DecompressDataStream: %v", err)
			}
			if !bytes.Equal(stream, data) {
				t.Fatalf("decompressed stream = %q, want %q", stream, data)
			}

			got, err := d.ExtractEntry("CAB-1/b.bin")
			if err != nil {
				t.Fatalf("ExtractEntry: %v", err)
			}
			if !bytes.Equal(got, data[20:]) {
				t.Fatalf("ExtractEntry = %q, want %q", got, data[20:])
			}
		})
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	t.Parallel()

	raw := buildTestBundle(t, []byte("x"), nil, block.MethodStored, false)
	raw[0] = 'Z'

	if _, err := Parse(raw); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	t.Parallel()

	raw := buildTestBundle(t, []byte("payload"), nil, block.MethodStored, false)

	// FormatVersion is the u32 immediately after the 8-byte signature.
	raw[len(Signature)+3] = byte(MinFormatVersion - 1)
	raw[len(Signature)] = 0
	raw[len(Signature)+1] = 0
	raw[len(Signature)+2] = 0

	if _, err := Parse(raw); err == nil {
		t.Fatal("expected format version error")
	}
}

func TestValidateRejectsOutOfRangeEntry(t *testing.T) {
	t.Parallel()

	data := []byte("short")
	entries := []Entry{{Path: "bad.bin", Offset: 0, Size: int64(len(data)) + 10}}
	raw := buildTestBundle(t, data, entries, block.MethodStored, false)

	d, err := ParseLenient(raw)
	if err != nil {
		t.Fatalf("ParseLenient: %v", err)
	}
	if err := Validate(d); err == nil {
		t.Fatal("expected Validate to reject out-of-range entry")
	}

	if _, err := Parse(raw); err == nil {
		t.Fatal("expected Parse to reject the same bundle")
	}
}

func TestExtractEntryMissing(t *testing.T) {
	t.Parallel()

	raw := buildTestBundle(t, []byte("data"), []Entry{{Path: "a.bin", Offset: 0, Size: 4}}, block.MethodStored, false)
	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := d.ExtractEntry("missing.bin"); err == nil {
		t.Fatal("expected resolution error for missing entry")
	}
}

func TestSortedEntries(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Path: "z.bin", Offset: 0, Size: 1},
		{Path: "a.bin", Offset: 1, Size: 1},
		{Path: "m.bin", Offset: 2, Size: 1},
	}
	raw := buildTestBundle(t, []byte("abc"), entries, block.MethodStored, false)
	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sorted := d.SortedEntries()
	want := []string{"a.bin", "m.bin", "z.bin"}
	for i, e := range sorted {
		if e.Path != want[i] {
			t.Fatalf("SortedEntries()[%d] = %q, want %q", i, e.Path, want[i])
		}
	}
}
