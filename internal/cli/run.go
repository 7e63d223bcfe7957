package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rretrogamerr/uaedb/internal/bundle"
	"github.com/rretrogamerr/uaedb/internal/patch"
	"github.com/rretrogamerr/uaedb/internal/uaerr"
	"github.com/rretrogamerr/uaedb/internal/uncompressed"
	"github.com/rretrogamerr/uaedb/internal/workdir"
	"github.com/rretrogamerr/uaedb/internal/xdelta"
)

// runPatch implements the default command surface of spec §6: --uncompress
// and --list-entries are terminal inspection modes; everything else runs
// the patch orchestrator against SOURCE PATCH OUTPUT, choosing entry mode
// when --entry is given, auto-selecting across entries otherwise, and
// falling through to full-bundle mode when auto-selection matches nothing.
func runPatch(opts *Root) error {
	if strings.TrimSpace(opts.Args.Source) == "" {
		return fmt.Errorf("%w: SOURCE is required", uaerr.ErrUsage)
	}

	sourceBytes, err := os.ReadFile(opts.Args.Source)
	if err != nil {
		return fmt.Errorf("%w: reading source bundle: %w", uaerr.ErrIO, err)
	}

	source, err := bundle.Parse(sourceBytes)
	if err != nil {
		return err
	}

	if opts.ListEntries {
		for _, e := range source.SortedEntries() {
			fmt.Printf("%s\t%d\n", e.Path, e.Size)
		}
		return nil
	}

	if opts.Uncompress != "" {
		data, err := source.DecompressDataStream()
		if err != nil {
			return fmt.Errorf("decompressing source data stream: %w", err)
		}
		out, err := uncompressed.Write(source, data)
		if err != nil {
			return err
		}
		return writeOutputAtomic(opts.Uncompress, out)
	}

	if strings.TrimSpace(opts.Args.Patch) == "" || strings.TrimSpace(opts.Args.Output) == "" {
		return fmt.Errorf("%w: PATCH and OUTPUT are required unless --uncompress or --list-entries is given", uaerr.ErrUsage)
	}

	patchBytes, err := os.ReadFile(opts.Args.Patch)
	if err != nil {
		return fmt.Errorf("%w: reading patch file: %w", uaerr.ErrIO, err)
	}

	patcher := xdelta.New(opts.Xdelta)
	if _, err := patcher.Resolve(); err != nil {
		return err
	}

	mode := "auto"
	if opts.Entry != "" {
		mode = "entry:" + opts.Entry
	}

	if !opts.SkipCache {
		nextHash, err := computePatchInputsHash(opts.Args.Source, opts.Args.Patch, mode, opts.Entry)
		if err == nil && shouldSkipPatch(opts.Args.Output, nextHash) {
			fmt.Printf("%s is up to date, skipping\n", opts.Args.Output)
			return nil
		}
	}

	dir, err := workdir.New(opts.KeepWork)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	ctx := context.Background()

	out, err := runOrchestrator(ctx, opts, source, patchBytes, patcher, dir.Path)
	if err != nil {
		return err
	}

	if err := writeOutputAtomic(opts.Args.Output, out); err != nil {
		return err
	}

	if !opts.SkipCache {
		if hash, hashErr := computePatchInputsHash(opts.Args.Source, opts.Args.Patch, mode, opts.Entry); hashErr == nil {
			_ = writeCacheHash(opts.Args.Output, hash)
		}
	}

	return nil
}

func runOrchestrator(ctx context.Context, opts *Root, source *bundle.Descriptor, patchBytes []byte, patcher patch.Patcher, workDir string) ([]byte, error) {
	if opts.Entry != "" {
		return patch.RunEntry(ctx, source, opts.Entry, patchBytes, patcher, workDir)
	}

	out, err := patch.AutoSelect(ctx, source, patchBytes, patcher, workDir)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, patch.ErrNoMatch) {
		return patch.RunFull(ctx, source, patchBytes, patcher, workDir)
	}
	return nil, err
}

// writeOutputAtomic never leaves a partially-written file at path: it
// writes to a sibling temp file and renames into place only once the full
// content is flushed (spec §5, Resource discipline).
func writeOutputAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temporary output file: %w", uaerr.ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: writing output: %w", uaerr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: closing output: %w", uaerr.ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming output into place: %w", uaerr.ErrIO, err)
	}
	return nil
}
