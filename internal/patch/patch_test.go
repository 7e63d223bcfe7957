package patch

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rretrogamerr/uaedb/internal/block"
	"github.com/rretrogamerr/uaedb/internal/bundle"
	"github.com/rretrogamerr/uaedb/internal/uncompressed"
)

// stubPatcher is a fake Patcher whose behavior a test controls directly,
// standing in for the external xdelta3 process.
type stubPatcher struct {
	fn  func(source []byte) ([]byte, error)
	fns map[string]func(source []byte) ([]byte, error)
}

func (p *stubPatcher) Patch(_ context.Context, _ string, sourceBytes, _ []byte) ([]byte, error) {
	if p.fns != nil {
		if fn, ok := p.fns[string(sourceBytes)]; ok {
			return fn(sourceBytes)
		}
	}
	return p.fn(sourceBytes)
}

func buildPatchOriginal(t *testing.T, data []byte, entries []bundle.Entry) *bundle.Descriptor {
	t.Helper()

	encoded, err := block.Encode(block.MethodStored, data)
	if err != nil {
		t.Fatalf("block.Encode: %v", err)
	}
	info := bundle.BlockInfo{
		Blocks: []bundle.Block{{
			UncompressedSize: uint32(len(data)),
			CompressedSize:   uint32(len(encoded)),
			Flags:            uint16(block.MethodStored),
		}},
		Entries: entries,
	}
	rawInfo, err := bundle.EncodeBlockInfo(&info)
	if err != nil {
		t.Fatalf("EncodeBlockInfo: %v", err)
	}
	compressedInfo, err := block.Encode(block.MethodStored, rawInfo)
	if err != nil {
		t.Fatalf("compress block-info: %v", err)
	}
	header := bundle.Header{
		UnityVersion:        "2021.3.0f1",
		GeneratorVersion:    "patch_test",
		FormatVersion:       bundle.MinFormatVersion,
		CompressedInfoSize:  uint32(len(compressedInfo)),
		UncompressedInfSize: uint32(len(rawInfo)),
		DataFlags:           uint32(block.MethodStored),
	}

	var out bytes.Buffer
	_ = bundle.WriteHeader(&out, &header)
	headerLen := out.Len()
	out.Write(compressedInfo)
	out.Write(encoded)
	header.TotalSize = int64(out.Len())
	var final bytes.Buffer
	_ = bundle.WriteHeader(&final, &header)
	raw := append(final.Bytes(), out.Bytes()[headerLen:]...)

	d, err := bundle.Parse(raw)
	if err != nil {
		t.Fatalf("Parse original: %v", err)
	}
	return d
}

func TestRunEntrySpliceSameLength(t *testing.T) {
	t.Parallel()

	data := []byte("AAAABBBB")
	entries := []bundle.Entry{
		{Path: "a.bin", Offset: 0, Size: 4},
		{Path: "b.bin", Offset: 4, Size: 4},
	}
	original := buildPatchOriginal(t, data, entries)

	patcher := &stubPatcher{fn: func([]byte) ([]byte, error) { return []byte("ZZZZ"), nil }}

	out, err := RunEntry(context.Background(), original, "a.bin", []byte("patch"), patcher, t.TempDir())
	if err != nil {
		t.Fatalf("RunEntry: %v", err)
	}

	rebuilt, err := bundle.Parse(out)
	if err != nil {
		t.Fatalf("Parse rebuilt: %v", err)
	}
	stream, err := rebuilt.DecompressDataStream()
	if err != nil {
		t.Fatalf("DecompressDataStream: %v", err)
	}
	if !bytes.Equal(stream, []byte("ZZZZBBBB")) {
		t.Fatalf("stream = %q, want %q", stream, "ZZZZBBBB")
	}
	if len(rebuilt.Info.Entries) != 2 || rebuilt.Info.Entries[1].Offset != 4 {
		t.Fatalf("unexpected entry directory: %+v", rebuilt.Info.Entries)
	}
}

func TestRunEntrySpliceResize(t *testing.T) {
	t.Parallel()

	data := []byte("AAAABBBB")
	entries := []bundle.Entry{
		{Path: "a.bin", Offset: 0, Size: 4},
		{Path: "b.bin", Offset: 4, Size: 4},
	}
	original := buildPatchOriginal(t, data, entries)

	patcher := &stubPatcher{fn: func([]byte) ([]byte, error) { return []byte("ZZZZZZ"), nil }}

	out, err := RunEntry(context.Background(), original, "a.bin", []byte("patch"), patcher, t.TempDir())
	if err != nil {
		t.Fatalf("RunEntry: %v", err)
	}

	rebuilt, err := bundle.Parse(out)
	if err != nil {
		t.Fatalf("Parse rebuilt: %v", err)
	}
	stream, err := rebuilt.DecompressDataStream()
	if err != nil {
		t.Fatalf("DecompressDataStream: %v", err)
	}
	if !bytes.Equal(stream, []byte("ZZZZZZBBBB")) {
		t.Fatalf("stream = %q, want %q", stream, "ZZZZZZBBBB")
	}

	if rebuilt.Info.Entries[1].Offset != 6 {
		t.Fatalf("shifted entry offset = %d, want 6", rebuilt.Info.Entries[1].Offset)
	}
}

func TestRunEntryMissingPath(t *testing.T) {
	t.Parallel()

	original := buildPatchOriginal(t, []byte("AAAA"), []bundle.Entry{{Path: "a.bin", Offset: 0, Size: 4}})
	patcher := &stubPatcher{fn: func([]byte) ([]byte, error) { return []byte("BBBB"), nil }}

	_, err := RunEntry(context.Background(), original, "missing.bin", nil, patcher, t.TempDir())
	if err == nil {
		t.Fatal("expected resolution error")
	}
}

func TestRunFullConsistentPatch(t *testing.T) {
	t.Parallel()

	data := []byte("hello world, this is the original payload")
	original := buildPatchOriginal(t, data, []bundle.Entry{{Path: "a.bin", Offset: 0, Size: int64(len(data))}})

	newData := []byte("hello world, this is the updated! payload")
	if len(newData) != len(data) {
		t.Fatalf("test fixture lengths must match: %d vs %d", len(newData), len(data))
	}

	patcher := &stubPatcher{fn: func(source []byte) ([]byte, error) {
		u, err := bundle.ParseLenient(source)
		if err != nil {
			t.Fatalf("fake patcher could not parse its own input: %v", err)
		}
		out, err := uncompressed.Write(u, newData)
		if err != nil {
			t.Fatalf("fake patcher rewrite: %v", err)
		}
		return out, nil
	}}

	out, err := RunFull(context.Background(), original, []byte("patch"), patcher, t.TempDir())
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	rebuilt, err := bundle.Parse(out)
	if err != nil {
		t.Fatalf("Parse rebuilt: %v", err)
	}
	stream, err := rebuilt.DecompressDataStream()
	if err != nil {
		t.Fatalf("DecompressDataStream: %v", err)
	}
	if !bytes.Equal(stream, newData) {
		t.Fatalf("stream = %q, want %q", stream, newData)
	}
}

func TestRunFullRawFallback(t *testing.T) {
	t.Parallel()

	data := []byte("hello world, original payload for fallback test")
	original := buildPatchOriginal(t, data, []bundle.Entry{{Path: "a.bin", Offset: 0, Size: int64(len(data))}})

	newData := []byte("a shorter patched payload")

	patcher := &stubPatcher{fn: func(source []byte) ([]byte, error) {
		u, err := bundle.ParseLenient(source)
		if err != nil {
			t.Fatalf("fake patcher could not parse its own input: %v", err)
		}
		// Simulate xdelta having shrunk the .decomp payload without updating
		// its stale entry directory: the block list is resized to the new
		// (shorter) payload, but the lone entry still claims the old, now
		// out-of-range length.
		staleEntries := []bundle.Entry{{Path: "a.bin", Offset: 0, Size: int64(len(data))}}
		uStale := &bundle.Descriptor{
			Header: u.Header,
			Info: bundle.BlockInfo{
				ContentHash: u.Info.ContentHash,
				Blocks: []bundle.Block{{
					UncompressedSize: uint32(len(newData)),
					CompressedSize:   uint32(len(newData)),
					Flags:            uint16(block.MethodStored),
				}},
				Entries: staleEntries,
			},
			Source:    u.Source,
			DataStart: u.DataStart,
			DataEnd:   u.DataEnd,
		}
		out, err := uncompressed.Write(uStale, newData)
		if err != nil {
			t.Fatalf("fake patcher rewrite: %v", err)
		}
		return out, nil
	}}

	out, err := RunFull(context.Background(), original, []byte("patch"), patcher, t.TempDir())
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	// The fallback deliberately keeps U''s stale entry directory (spec
	// §4.5 step 4), so the rebuilt bundle's entries no longer fit its
	// shorter payload — parse leniently and check the data stream directly.
	rebuilt, err := bundle.ParseLenient(out)
	if err != nil {
		t.Fatalf("ParseLenient rebuilt: %v", err)
	}
	stream, err := rebuilt.DecompressDataStream()
	if err != nil {
		t.Fatalf("DecompressDataStream: %v", err)
	}
	if !bytes.Equal(stream, newData) {
		t.Fatalf("fallback stream = %q, want %q", stream, newData)
	}
	if len(rebuilt.Info.Blocks) != 1 {
		t.Fatalf("expected forced re-chunk to produce a single block for %d bytes, got %d blocks",
			len(newData), len(rebuilt.Info.Blocks))
	}
}

func TestAutoSelectExactlyOneMatch(t *testing.T) {
	t.Parallel()

	data := []byte("AAAABBBB")
	entries := []bundle.Entry{
		{Path: "a.bin", Offset: 0, Size: 4},
		{Path: "b.bin", Offset: 4, Size: 4},
	}
	original := buildPatchOriginal(t, data, entries)

	patcher := &stubPatcher{fns: map[string]func([]byte) ([]byte, error){
		"AAAA": func([]byte) ([]byte, error) { return []byte("ZZZZ"), nil },
		"BBBB": func([]byte) ([]byte, error) { return nil, errors.New("patch does not apply") },
	}}

	out, err := AutoSelect(context.Background(), original, []byte("patch"), patcher, t.TempDir())
	if err != nil {
		t.Fatalf("AutoSelect: %v", err)
	}
	rebuilt, err := bundle.Parse(out)
	if err != nil {
		t.Fatalf("Parse rebuilt: %v", err)
	}
	stream, err := rebuilt.DecompressDataStream()
	if err != nil {
		t.Fatalf("DecompressDataStream: %v", err)
	}
	if !bytes.Equal(stream, []byte("ZZZZBBBB")) {
		t.Fatalf("stream = %q, want %q", stream, "ZZZZBBBB")
	}
}

func TestAutoSelectNoMatch(t *testing.T) {
	t.Parallel()

	data := []byte("AAAABBBB")
	entries := []bundle.Entry{
		{Path: "a.bin", Offset: 0, Size: 4},
		{Path: "b.bin", Offset: 4, Size: 4},
	}
	original := buildPatchOriginal(t, data, entries)

	patcher := &stubPatcher{fn: func([]byte) ([]byte, error) { return nil, errors.New("never applies") }}

	_, err := AutoSelect(context.Background(), original, []byte("patch"), patcher, t.TempDir())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestAutoSelectAmbiguous(t *testing.T) {
	t.Parallel()

	data := []byte("AAAABBBB")
	entries := []bundle.Entry{
		{Path: "a.bin", Offset: 0, Size: 4},
		{Path: "b.bin", Offset: 4, Size: 4},
	}
	original := buildPatchOriginal(t, data, entries)

	patcher := &stubPatcher{fn: func([]byte) ([]byte, error) { return []byte("ZZZZ"), nil }}

	_, err := AutoSelect(context.Background(), original, []byte("patch"), patcher, t.TempDir())
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}
