package xdelta

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func TestResolveMissingExecutable(t *testing.T) {
	t.Parallel()

	p := New("uaedb-definitely-not-a-real-executable")
	_, err := p.Resolve()
	if err == nil {
		t.Fatal("expected resolution error for a nonexistent executable")
	}
}

func TestResolveDefaultsToPathLookup(t *testing.T) {
	t.Parallel()

	p := New("")
	_, err := p.Resolve()
	// xdelta3 may or may not be installed in the test environment; either
	// outcome is acceptable, but a missing-binary error must be the
	// specific exec.LookPath failure, not some other kind of error.
	if err != nil && !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func TestPatchFailsFastWhenExecutableMissing(t *testing.T) {
	t.Parallel()

	p := New("uaedb-definitely-not-a-real-executable")
	_, err := p.Patch(context.Background(), t.TempDir(), []byte("source"), []byte("patch"))
	if err == nil {
		t.Fatal("expected error when the patcher executable cannot be resolved")
	}
}
