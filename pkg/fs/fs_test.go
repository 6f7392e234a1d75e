package fs_test

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/graftdebug/graft/pkg/fs"
)

func TestRealWriteFileAtomicReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.tr")
	rfs := fs.NewReal()

	if err := rfs.WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("write first: %v", err)
	}

	if err := rfs.WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("write second: %v", err)
	}

	got, err := rfs.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(got) != "second" {
		t.Fatalf("content=%q, want %q", got, "second")
	}

	info, err := rfs.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if info.Mode().Perm() != 0o644 {
		t.Fatalf("perm=%v, want 0644", info.Mode().Perm())
	}

	entries, err := rfs.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("entries=%d, want 1 (temp file left behind?)", len(entries))
	}
}

func TestRealExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rfs := fs.NewReal()

	ok, err := rfs.Exists(filepath.Join(dir, "missing"))
	if err != nil || ok {
		t.Fatalf("Exists(missing)=(%v, %v), want (false, nil)", ok, err)
	}

	if err := rfs.MkdirAll(filepath.Join(dir, "a", "b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ok, err = rfs.Exists(filepath.Join(dir, "a", "b"))
	if err != nil || !ok {
		t.Fatalf("Exists(a/b)=(%v, %v), want (true, nil)", ok, err)
	}
}

func TestChaosWriteFailureLeavesOldContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.tr")

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{WriteFailRate: 1})
	chaos.SetMode(fs.ChaosModeNoOp)

	if err := chaos.WriteFileAtomic(path, []byte("keep"), 0o644); err != nil {
		t.Fatalf("noop write: %v", err)
	}

	chaos.SetMode(fs.ChaosModeActive)

	err := chaos.WriteFileAtomic(path, []byte("lost"), 0o644)
	if err == nil {
		t.Fatal("expected injected write error")
	}

	if !fs.IsChaosErr(err) {
		t.Fatalf("IsChaosErr(%v)=false", err)
	}

	var pathErr *iofs.PathError
	if !errors.As(err, &pathErr) || pathErr.Path != path {
		t.Fatalf("err=%v, want *fs.PathError for %s", err, path)
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		t.Fatalf("err=%v does not unwrap to an errno", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(got) != "keep" {
		t.Fatalf("content=%q, want %q", got, "keep")
	}

	if stats := chaos.Stats(); stats.WriteFails != 1 || stats.Total() != 1 {
		t.Fatalf("stats=%+v, want one write fail", stats)
	}
}

func TestChaosZeroConfigPassesThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 42, nil)

	for i := range 50 {
		path := filepath.Join(dir, "f")
		if err := chaos.WriteFileAtomic(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}

		if _, err := chaos.ReadFile(path); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if total := chaos.Stats().Total(); total != 0 {
		t.Fatalf("injected %d faults with zero config", total)
	}
}

func TestChaosIsChaosErrRejectsRealErrors(t *testing.T) {
	t.Parallel()

	_, err := fs.NewReal().ReadFile(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error")
	}

	if fs.IsChaosErr(err) {
		t.Fatalf("IsChaosErr(%v)=true for a real error", err)
	}
}
