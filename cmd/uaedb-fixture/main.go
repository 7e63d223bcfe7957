// Command uaedb-fixture generates synthetic UnityFS bundles for exercising
// the patcher without a real Unity asset pipeline: each output file is a
// valid, parseable bundle with randomized entries stored in a single data
// block.
package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/rretrogamerr/uaedb/internal/block"
	"github.com/rretrogamerr/uaedb/internal/bundle"
)

type Options struct {
	Args struct {
		OutputDir string `positional-arg-name:"output" description:"Output directory for generated bundles" required:"yes"`
	} `positional-args:"yes" required:"yes"`

	Count        int    `short:"c" long:"count" description:"Number of bundles to generate" default:"5"`
	Entries      int    `short:"e" long:"entries" description:"Entries per bundle" default:"3"`
	MinEntry     int    `short:"m" long:"min-entry-size" description:"Minimum entry size in bytes" default:"256"`
	MaxEntry     int    `short:"M" long:"max-entry-size" description:"Maximum entry size in bytes" default:"65536"`
	Method       string `short:"z" long:"method" description:"Block compression method" choice:"stored" choice:"lzma" choice:"lz4" choice:"lz4hc" default:"lz4hc"`
	BlockAtEnd   bool   `long:"block-info-at-end" description:"Place the block-info section at the end of the bundle instead of inline"`
	AlignmentPad bool   `long:"alignment-pad" description:"Set the alignment-pad data flag"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "uaedb-fixture"
	parser.Usage = "[OPTIONS] <output-dir>"

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(&opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *Options) error {
	if opts.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if opts.Entries <= 0 {
		return fmt.Errorf("entries must be positive")
	}
	if opts.MinEntry <= 0 || opts.MaxEntry <= 0 || opts.MinEntry > opts.MaxEntry {
		return fmt.Errorf("min-entry-size/max-entry-size invalid")
	}

	method, err := parseMethod(opts.Method)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.Args.OutputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	//nolint:gosec // non-crypto randomness is fine for fixture generation.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < opts.Count; i++ {
		name := fmt.Sprintf("fixture_%03d.unity3d", i)
		path := filepath.Join(opts.Args.OutputDir, name)
		if err := generateBundle(path, opts, method, rng); err != nil {
			return fmt.Errorf("generating bundle %d: %w", i, err)
		}
	}

	fmt.Printf("Successfully generated %d bundles in %s\n", opts.Count, opts.Args.OutputDir)
	return nil
}

func parseMethod(s string) (int, error) {
	switch s {
	case "stored":
		return block.MethodStored, nil
	case "lzma":
		return block.MethodLZMA, nil
	case "lz4":
		return block.MethodLZ4, nil
	case "lz4hc":
		return block.MethodLZ4HC, nil
	default:
		return 0, fmt.Errorf("unknown method %q", s)
	}
}

// generateBundle builds a random data stream, partitions it into entries,
// compresses it as a single data block, and assembles a complete bundle
// byte stream using the same header/block-info shapes bundle.Parse expects.
func generateBundle(path string, opts *Options, method int, rng *rand.Rand) error {
	entries := make([]bundle.Entry, opts.Entries)
	var data []byte
	offset := int64(0)
	for i := range entries {
		size := opts.MinEntry + rng.Intn(opts.MaxEntry-opts.MinEntry+1)
		chunk := make([]byte, size)
		if _, err := rng.Read(chunk); err != nil {
			return fmt.Errorf("generating entry bytes: %w", err)
		}
		data = append(data, chunk...)
		entries[i] = bundle.Entry{
			Path:   fmt.Sprintf("CAB-%08x/asset_%03d.bin", rng.Uint32(), i),
			Offset: offset,
			Size:   int64(size),
		}
		offset += int64(size)
	}

	encoded, err := block.Encode(method, data)
	if err != nil {
		return fmt.Errorf("encoding data block: %w", err)
	}

	var contentHash [bundle.ContentHashLen]byte
	if _, err := rng.Read(contentHash[:]); err != nil {
		return fmt.Errorf("generating content hash: %w", err)
	}

	info := bundle.BlockInfo{
		ContentHash: contentHash,
		Blocks: []bundle.Block{{
			UncompressedSize: uint32(len(data)), //nolint:gosec // fixture sizes are test-scale.
			CompressedSize:   uint32(len(encoded)),
			Flags:            uint16(method),
		}},
		Entries: entries,
	}

	rawInfo, err := bundle.EncodeBlockInfo(&info)
	if err != nil {
		return fmt.Errorf("encoding block-info: %w", err)
	}
	compressedInfo, err := block.Encode(method, rawInfo)
	if err != nil {
		return fmt.Errorf("compressing block-info: %w", err)
	}

	dataFlags := uint32(method)
	if opts.BlockAtEnd {
		dataFlags |= bundle.FlagBlockInfoAtEnd
	}
	if opts.AlignmentPad {
		dataFlags |= bundle.FlagAlignmentPad
	}

	header := bundle.Header{
		UnityVersion:        "2021.3.0f1",
		GeneratorVersion:    "uaedb-fixture",
		FormatVersion:       bundle.AlignmentPadMinVersion,
		CompressedInfoSize:  uint32(len(compressedInfo)), //nolint:gosec // fixture sizes are test-scale.
		UncompressedInfSize: uint32(len(rawInfo)),         //nolint:gosec // fixture sizes are test-scale.
		DataFlags:           dataFlags,
	}

	out, err := assembleBundle(&header, compressedInfo, encoded)
	if err != nil {
		return err
	}

	return os.WriteFile(path, out, 0o644) //nolint:gosec // fixture output is meant to be read back.
}

// assembleBundle mirrors internal/rebuild's layout decision so a generated
// fixture round-trips through bundle.Parse exactly like a rebuilt one: write
// once to learn the final size, rewrite the header with it, and splice the
// corrected header back onto the body.
func assembleBundle(header *bundle.Header, compressedInfo, dataBlock []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := bundle.WriteHeader(&out, header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	headerLen := out.Len()

	if header.BlockInfoAtEnd() {
		out.Write(dataBlock)
		out.Write(compressedInfo)
	} else {
		out.Write(compressedInfo)
		if header.HasAlignmentPad() {
			out.Write(make([]byte, alignPad(int64(out.Len()))))
		}
		out.Write(dataBlock)
	}

	header.TotalSize = int64(out.Len())

	var final bytes.Buffer
	if err := bundle.WriteHeader(&final, header); err != nil {
		return nil, fmt.Errorf("rewriting header: %w", err)
	}

	result := append(final.Bytes(), out.Bytes()[headerLen:]...)
	return result, nil
}

func alignPad(n int64) int64 {
	aligned := (n + 15) &^ 15
	return aligned - n
}
