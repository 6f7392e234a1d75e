package fs

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// ReadFailRate controls how often FS.ReadFile fails, returning EACCES,
	// EIO or EMFILE.
	ReadFailRate float64

	// WriteFailRate controls how often FS.WriteFileAtomic fails before any
	// byte reaches path. Returns EIO, ENOSPC, EDQUOT or EROFS. The previous
	// file content, if any, is left untouched.
	WriteFailRate float64

	// ReadDirFailRate controls how often FS.ReadDir fails entirely,
	// returning no entries.
	ReadDirFailRate float64

	// MkdirAllFailRate controls how often FS.MkdirAll fails.
	MkdirAllFailRate float64

	// StatFailRate controls how often FS.Stat and FS.Exists fail.
	StatFailRate float64

	// RemoveFailRate controls how often FS.Remove fails.
	RemoveFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	ReadFails    int64
	WriteFails   int64
	ReadDirFails int64
	MkdirFails   int64
	StatFails    int64
	RemoveFails  int64
}

// Total returns the sum of all injected faults.
func (s ChaosStats) Total() int64 {
	return s.ReadFails + s.WriteFails + s.ReadDirFails + s.MkdirFails + s.StatFails + s.RemoveFails
}

// Chaos wraps an [FS] and injects faults according to a [ChaosConfig].
//
// Faults are drawn from a seeded PCG source so a failing test can be
// replayed with the same seed. Injected errors are real [*fs.PathError]
// values carrying syscall errnos; use [IsChaosErr] to tell them apart from
// genuine filesystem failures.
type Chaos struct {
	fs     FS
	config ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand

	mode atomic.Uint32

	readFails    atomic.Int64
	writeFails   atomic.Int64
	readDirFails atomic.Int64
	mkdirFails   atomic.Int64
	statFails    atomic.Int64
	removeFails  atomic.Int64
}

// NewChaos returns a [Chaos] wrapping underlying. A nil config disables
// injection until [Chaos.SetConfig] is called.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	c := &Chaos{
		fs:  underlying,
		rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}

	if config != nil {
		c.config = *config
	}

	return c
}

// SetMode switches between active injection and passthrough.
func (c *Chaos) SetMode(mode ChaosMode) {
	c.mode.Store(uint32(mode))
}

// SetConfig replaces the fault rates. Not safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetConfig(config ChaosConfig) {
	c.config = config
}

// Stats returns the number of faults injected so far.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:    c.readFails.Load(),
		WriteFails:   c.writeFails.Load(),
		ReadDirFails: c.readDirFails.Load(),
		MkdirFails:   c.mkdirFails.Load(),
		StatFails:    c.statFails.Load(),
		RemoveFails:  c.removeFails.Load(),
	}
}

// ReadFile reads path, failing at ReadFailRate.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, c.pathError("open", path, syscall.EACCES, syscall.EIO, syscall.EMFILE)
	}

	return c.fs.ReadFile(path)
}

// WriteFileAtomic writes path, failing at WriteFailRate.
func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return c.pathError("write", path, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// ReadDir lists path, failing at ReadDirFailRate.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if c.should(c.config.ReadDirFailRate) {
		c.readDirFails.Add(1)

		return nil, c.pathError("readdirent", path, syscall.EACCES, syscall.EIO, syscall.ENOTDIR)
	}

	return c.fs.ReadDir(path)
}

// MkdirAll creates path, failing at MkdirAllFailRate.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirAllFailRate) {
		c.mkdirFails.Add(1)

		return c.pathError("mkdir", path, syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS)
	}

	return c.fs.MkdirAll(path, perm)
}

// Stat stats path, failing at StatFailRate.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, c.pathError("stat", path, syscall.EACCES, syscall.EIO)
	}

	return c.fs.Stat(path)
}

// Exists checks path, failing at StatFailRate.
func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, c.pathError("stat", path, syscall.EACCES, syscall.EIO)
	}

	return c.fs.Exists(path)
}

// Remove removes path, failing at RemoveFailRate.
func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return c.pathError("remove", path, syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO)
	}

	return c.fs.Remove(path)
}

func (c *Chaos) should(rate float64) bool {
	if rate <= 0 || ChaosMode(c.mode.Load()) == ChaosModeNoOp {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pathError(op, path string, errnos ...syscall.Errno) error {
	c.mu.Lock()
	errno := errnos[c.rng.IntN(len(errnos))]
	c.mu.Unlock()

	return &fs.PathError{Op: op, Path: path, Err: &chaosError{errno: errno}}
}

// chaosError marks an errno as injected. It unwraps to the errno so
// errors.Is(err, syscall.EIO) and friends keep working.
type chaosError struct {
	errno syscall.Errno
}

func (e *chaosError) Error() string {
	return e.errno.Error()
}

func (e *chaosError) Unwrap() error {
	return e.errno
}

// IsChaosErr reports whether err was injected by [Chaos].
func IsChaosErr(err error) bool {
	var ce *chaosError

	return errors.As(err, &ce)
}

var _ FS = (*Chaos)(nil)
