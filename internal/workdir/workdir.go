// Package workdir manages the single temporary directory an orchestrator
// run owns for the life of one operation: every intermediate file the
// patch pipeline needs lives under it, and it is removed on exit unless the
// caller asked to keep it (spec §5, §6 --keep-work).
package workdir

import (
	"fmt"
	"os"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Dir is a temporary work directory plus the policy for cleaning it up.
type Dir struct {
	Path string
	keep bool
}

// New creates a fresh temporary directory under the OS default temp
// location, prefixed for easy identification during debugging.
func New(keep bool) (*Dir, error) {
	path, err := os.MkdirTemp("", "uaedb-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating work directory: %w", uaerr.ErrIO, err)
	}
	return &Dir{Path: path, keep: keep}, nil
}

// Close removes the work directory unless it was created with keep set.
// Resource discipline: callers should defer this immediately after New
// succeeds, on every exit path including failure (spec §5) — the directory
// is removed on success and on any non-keep-work failure alike.
func (d *Dir) Close() error {
	if d.keep {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("%w: removing work directory %q: %w", uaerr.ErrIO, d.Path, err)
	}
	return nil
}
