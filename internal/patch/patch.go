// Package patch implements the three orchestration flows spec §4.5 composes
// out of the block, bundle, uncompressed, and rebuild packages: full-bundle
// patching (with its raw-fallback recovery), single-entry patching, and
// auto-selection across a multi-entry bundle's candidates.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rretrogamerr/uaedb/internal/bundle"
	"github.com/rretrogamerr/uaedb/internal/rebuild"
	"github.com/rretrogamerr/uaedb/internal/uaerr"
	"github.com/rretrogamerr/uaedb/internal/uncompressed"
)

// ErrNoMatch and ErrAmbiguous distinguish auto-selection's two resolution
// failures (spec §4.5, Auto-selection) for callers that want to react to
// them differently — the CLI falls through to full-bundle mode on
// ErrNoMatch but treats ErrAmbiguous as a hard stop.
var (
	ErrNoMatch   = errors.New("no entry matched the patch")
	ErrAmbiguous = errors.New("more than one entry matched the patch")
)

// Patcher applies patchBytes to sourceBytes under workDir and returns the
// result, modeled as the pure function spec §4.5 describes even though the
// concrete implementation (internal/xdelta) shells out to an external tool.
type Patcher interface {
	Patch(ctx context.Context, workDir string, sourceBytes, patchBytes []byte) ([]byte, error)
}

// RunFull implements full-bundle mode (spec §4.5, Full-bundle mode): write
// the uncompressed intermediate, patch it externally, and rebuild against
// the original descriptor using the patched data stream. It falls back to
// treating the patched bytes as a raw, unparsed data stream when the
// patched bundle's block-info no longer describes its own payload — the
// common failure mode of xdelta output on UnityFS bundles.
func RunFull(ctx context.Context, original *bundle.Descriptor, patchBytes []byte, patcher Patcher, workDir string) ([]byte, error) {
	originalData, err := original.DecompressDataStream()
	if err != nil {
		return nil, fmt.Errorf("decompressing source data stream: %w", err)
	}

	u, err := writeUncompressed(original, originalData)
	if err != nil {
		return nil, err
	}

	patched, err := patcher.Patch(ctx, workDir, u, patchBytes)
	if err != nil {
		return nil, err
	}

	uPrime, err := bundle.ParseLenient(patched)
	if err != nil {
		return nil, fmt.Errorf("parsing patched bundle: %w", err)
	}

	newData, newEntries, usedFallback := resolvePatchedData(original, uPrime)

	out, err := rebuild.Rebuild(original, newData, newEntries, usedFallback)
	if err != nil {
		return nil, fmt.Errorf("rebuilding from patched data: %w", err)
	}
	return out, nil
}

// resolvePatchedData implements spec §4.5 step 3-4: it accepts the patched
// bundle's own block-info and data stream when they're internally
// consistent and agree in length with the original, and otherwise falls
// back to the patched bundle's raw byte range as the new uncompressed data,
// forcing a re-chunk since the original block boundaries no longer apply.
func resolvePatchedData(original *bundle.Descriptor, uPrime *bundle.Descriptor) (data []byte, entries []bundle.Entry, usedFallback bool) {
	if data, ok := tryDecodePatched(original, uPrime); ok {
		return data, uPrime.Info.Entries, false
	}
	raw := uPrime.Source[uPrime.DataStart:uPrime.DataEnd]
	return raw, uPrime.Info.Entries, true
}

func tryDecodePatched(original *bundle.Descriptor, uPrime *bundle.Descriptor) ([]byte, bool) {
	data, err := uPrime.DecompressDataStream()
	if err != nil {
		return nil, false
	}
	if err := bundle.Validate(uPrime); err != nil {
		return nil, false
	}
	if int64(len(data)) != original.Info.UncompressedDataLen() {
		return nil, false
	}
	return data, true
}

func writeUncompressed(d *bundle.Descriptor, data []byte) ([]byte, error) {
	out, err := uncompressed.Write(d, data)
	if err != nil {
		return nil, fmt.Errorf("writing uncompressed intermediate: %w", err)
	}
	return out, nil
}

// attemptSubdir gives each auto-selection candidate its own scratch
// directory so the source/patch/target files of separate attempts never
// collide.
func attemptSubdir(workDir string, index int) (string, error) {
	dir := filepath.Join(workDir, "entry-"+strconv.Itoa(index))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: creating attempt directory: %w", uaerr.ErrIO, err)
	}
	return dir, nil
}

// RunEntry implements entry mode (spec §4.5, Entry mode): decompress the
// full data stream, patch the single named entry's bytes, splice the
// result back in (shifting later entries' offsets if it resized), and
// rebuild against the original descriptor.
func RunEntry(ctx context.Context, original *bundle.Descriptor, entryPath string, patchBytes []byte, patcher Patcher, workDir string) ([]byte, error) {
	data, err := original.DecompressDataStream()
	if err != nil {
		return nil, fmt.Errorf("decompressing source data stream: %w", err)
	}

	entry, ok := findEntry(original.Info.Entries, entryPath)
	if !ok {
		return nil, fmt.Errorf("%w: no entry named %q", uaerr.ErrResolution, entryPath)
	}

	entryBytes := data[entry.Offset : entry.Offset+entry.Size]
	patchedEntry, err := patcher.Patch(ctx, workDir, entryBytes, patchBytes)
	if err != nil {
		return nil, err
	}

	newData, newEntries := spliceEntry(data, original.Info.Entries, entry, patchedEntry)

	out, err := rebuild.Rebuild(original, newData, newEntries, false)
	if err != nil {
		return nil, fmt.Errorf("rebuilding from patched entry: %w", err)
	}
	return out, nil
}

func findEntry(entries []bundle.Entry, path string) (bundle.Entry, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e, true
		}
	}
	return bundle.Entry{}, false
}

// spliceEntry implements spec §4.5 entry-mode step 3: an unchanged-length
// replacement is spliced in place with the entry directory left alone;
// otherwise the data stream is rebuilt around the new entry bytes and every
// later entry's offset is shifted by the length delta.
func spliceEntry(data []byte, entries []bundle.Entry, entry bundle.Entry, patchedEntry []byte) ([]byte, []bundle.Entry) {
	if int64(len(patchedEntry)) == entry.Size {
		newData := make([]byte, len(data))
		copy(newData, data)
		copy(newData[entry.Offset:entry.Offset+entry.Size], patchedEntry)
		return newData, nil
	}

	prefix := data[:entry.Offset]
	suffix := data[entry.Offset+entry.Size:]
	newData := make([]byte, 0, len(prefix)+len(patchedEntry)+len(suffix))
	newData = append(newData, prefix...)
	newData = append(newData, patchedEntry...)
	newData = append(newData, suffix...)

	delta := int64(len(patchedEntry)) - entry.Size
	newEntries := make([]bundle.Entry, len(entries))
	for i, e := range entries {
		if e.Offset > entry.Offset {
			e.Offset += delta
		}
		newEntries[i] = e
	}

	return newData, newEntries
}

// candidate pairs an entry with the patch result obtained by trying it.
type candidate struct {
	entry  bundle.Entry
	output []byte
}

// AutoSelect implements spec §4.5 Auto-selection: try entry mode against
// every entry in the bundle, requiring exactly one to succeed (the patcher
// accepts the input and produces non-empty output). Zero or more than one
// match is a resolution error.
func AutoSelect(ctx context.Context, original *bundle.Descriptor, patchBytes []byte, patcher Patcher, workDir string) ([]byte, error) {
	data, err := original.DecompressDataStream()
	if err != nil {
		return nil, fmt.Errorf("decompressing source data stream: %w", err)
	}

	var matches []candidate
	for i, entry := range original.Info.Entries {
		entryBytes := data[entry.Offset : entry.Offset+entry.Size]
		attemptDir, err := attemptSubdir(workDir, i)
		if err != nil {
			return nil, err
		}

		output, err := patcher.Patch(ctx, attemptDir, entryBytes, patchBytes)
		if err != nil || len(output) == 0 {
			continue
		}
		matches = append(matches, candidate{entry: entry, output: output})
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %w: pass --list-entries to see candidates", uaerr.ErrResolution, ErrNoMatch)
	case 1:
		m := matches[0]
		newData, newEntries := spliceEntry(data, original.Info.Entries, m.entry, m.output)
		out, err := rebuild.Rebuild(original, newData, newEntries, false)
		if err != nil {
			return nil, fmt.Errorf("rebuilding from auto-selected entry: %w", err)
		}
		return out, nil
	default:
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = m.entry.Path
		}
		return nil, fmt.Errorf("%w: %w (%v); pass --entry to disambiguate",
			uaerr.ErrResolution, ErrAmbiguous, paths)
	}
}
