package cli

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

// cacheSuffix names the sidecar file next to an output bundle that records
// the hash of the inputs which produced it, mirroring the teacher's
// pack-cache sidecar next to a pack's imageset/edds output pair.
const cacheSuffix = ".uaedbcache"

// computePatchInputsHash hashes everything that determines a patch run's
// output: the source and patch file contents plus the mode selector, so a
// changed --entry or a swapped patch file invalidates the cache even when
// both files' mtimes are untouched.
func computePatchInputsHash(sourcePath, patchPath, mode, entry string) (uint64, error) {
	h := xxhash.New()

	for _, path := range []string{sourcePath, patchPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read %q for cache: %w", path, err)
		}
		if _, err := h.Write(data); err != nil {
			return 0, err
		}
		if _, err := h.Write([]byte{0}); err != nil {
			return 0, err
		}
	}

	if _, err := h.WriteString(mode); err != nil {
		return 0, err
	}
	if _, err := h.Write([]byte{0}); err != nil {
		return 0, err
	}
	if _, err := h.WriteString(entry); err != nil {
		return 0, err
	}

	return h.Sum64(), nil
}

// shouldSkipPatch reports whether outputPath already reflects nextHash and
// can be left alone instead of re-running the patcher and rebuilder.
func shouldSkipPatch(outputPath string, nextHash uint64) bool {
	prevHash, ok, err := readCacheHash(outputPath + cacheSuffix)
	if err != nil || !ok {
		return false
	}
	if prevHash != nextHash {
		return false
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return false
	}
	return true
}

func readCacheHash(path string) (uint64, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read cache: %w", err)
	}
	if len(data) != 8 {
		return 0, false, nil
	}
	return binary.LittleEndian.Uint64(data), true, nil
}

func writeCacheHash(outputPath string, hash uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, hash)
	if err := os.WriteFile(outputPath+cacheSuffix, buf, 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
