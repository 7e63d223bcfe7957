// Package xdelta wraps the external xdelta3 executable that the orchestrator
// treats as a pure function (source bytes, patch bytes) -> target bytes
// (spec §4.5, §6). Driving the actual binary is the one place uaedb must
// leave its single-process model and shell out, grounded on the same
// os/exec shape linuxboot/fiano's SystemLZMA.Encode uses for its own
// external-compressor call.
package xdelta

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// DefaultExecutable is the name looked up on PATH when --xdelta isn't given.
const DefaultExecutable = "xdelta3"

// Patcher drives an external xdelta3-compatible executable.
type Patcher struct {
	// Path is the configured executable as given (a path or a name looked
	// up on PATH); empty means DefaultExecutable. Resolve looks it up each
	// time it is called.
	Path string
}

// New returns a Patcher for the given executable override, or the default
// PATH lookup if override is empty.
func New(override string) *Patcher {
	return &Patcher{Path: override}
}

// Resolve checks that the configured executable exists and is runnable,
// without running it. The CLI calls this before any work-directory writes
// so a missing patcher fails fast (spec §8, scenario 6).
func (p *Patcher) Resolve() (string, error) {
	path := p.Path
	if path == "" {
		path = DefaultExecutable
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving patcher %q: %w", uaerr.ErrPatcher, path, err)
	}
	return resolved, nil
}

// Patch applies patchBytes to sourceBytes under workDir and returns the
// result. The patcher contract (spec §6) is three file paths and an exit
// code; this is the thin file-path shim over that contract the in-process
// orchestrator needs to treat it as (source, patch) -> target.
func (p *Patcher) Patch(ctx context.Context, workDir string, sourceBytes, patchBytes []byte) ([]byte, error) {
	exePath, err := p.Resolve()
	if err != nil {
		return nil, err
	}

	sourcePath := filepath.Join(workDir, "source.bin")
	patchPath := filepath.Join(workDir, "patch.xdelta")
	targetPath := filepath.Join(workDir, "target.bin")

	if err := os.WriteFile(sourcePath, sourceBytes, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing patcher source file: %w", uaerr.ErrIO, err)
	}
	if err := os.WriteFile(patchPath, patchBytes, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing patcher patch file: %w", uaerr.ErrIO, err)
	}

	cmd := exec.CommandContext(ctx, exePath, "-d", "-f", "-s", sourcePath, patchPath, targetPath)
	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf("%w: %s failed: %w (output: %s)", uaerr.ErrPatcher, exePath, runErr, output)
	}

	info, statErr := os.Stat(targetPath)
	if statErr != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s produced no output", uaerr.ErrPatcher, exePath)
	}

	result, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading patcher output: %w", uaerr.ErrIO, err)
	}

	return result, nil
}
