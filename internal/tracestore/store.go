// Package tracestore persists traces as flat files, one directory per job.
//
// A trace lives at {root}/{job}/{kind}_stp_{superstep}[_vid_{id}|_task_{id}].tr.
// There is no index: listing a job directory and parsing the file names is
// how traces are found. Writers in different processes never coordinate;
// each key has one writer in practice and the last write wins otherwise.
package tracestore

import (
	"context"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/graftdebug/graft/pkg/fs"
)

// Compression selects how blobs are stored. Get reads either format.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	}

	return "unknown"
}

// ParseCompression accepts "none", "" and "snappy".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	}

	return 0, errors.Newf("unknown compression %q", s)
}

// Blob header: "GRT" followed by one codec byte.
const (
	magic      = "GRT"
	headerSize = len(magic) + 1
)

const (
	filePerm = 0o644
	dirPerm  = 0o755

	signatureFile = "build.signature"
)

// Options configures a [Store].
type Options struct {
	Compression Compression
}

// Store reads and writes traces under a root directory. It holds no state
// besides its configuration and is safe for concurrent use.
type Store struct {
	fs          fs.FS
	root        string
	compression Compression
}

// Open returns a store rooted at root, creating the directory if needed.
func Open(fsys fs.FS, root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("tracestore: empty root")
	}

	err := fsys.MkdirAll(root, dirPerm)
	if err != nil {
		return nil, errors.Wrapf(err, "create trace root %s", root)
	}

	return &Store{fs: fsys, root: root, compression: opts.Compression}, nil
}

// Root returns the root directory.
func (s *Store) Root() string { return s.root }

// Put stores blob under key, replacing any previous trace. Readers see
// either the old or the new blob, never a mix, so retrying a Put is safe.
func (s *Store) Put(ctx context.Context, key Key, blob []byte) error {
	err := s.put(ctx, key, blob)

	return withContext(err, key.JobID, key.Path())
}

func (s *Store) put(ctx context.Context, key Key, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := key.Validate(); err != nil {
		return err
	}

	err := s.fs.MkdirAll(s.jobDir(key.JobID), dirPerm)
	if err != nil {
		return errors.Wrap(err, "create job directory")
	}

	err = s.fs.WriteFileAtomic(s.filePath(key), s.frame(blob), filePerm)
	if err != nil {
		return errors.Wrap(err, "write trace")
	}

	return nil
}

// Get returns the blob stored under key. It fails with [ErrNotFound] if
// there is none.
func (s *Store) Get(ctx context.Context, key Key) ([]byte, error) {
	blob, err := s.get(ctx, key)

	return blob, withContext(err, key.JobID, key.Path())
}

func (s *Store) get(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := s.fs.ReadFile(s.filePath(key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, errors.Wrap(err, "read trace")
	}

	return unframe(data)
}

// List returns the keys of all traces of jobID, ordered by superstep, then
// kind, then id. Files that do not follow the naming scheme are ignored.
// An unknown job has no traces.
func (s *Store) List(ctx context.Context, jobID string) ([]Key, error) {
	keys, err := s.list(ctx, jobID)

	return keys, withContext(err, jobID, "")
}

func (s *Store) list(ctx context.Context, jobID string) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(s.jobDir(jobID))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "list job directory")
	}

	var keys []Key

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}

		k, err := parseName(jobID, e.Name())
		if err != nil {
			continue
		}

		keys = append(keys, k)
	}

	slices.SortFunc(keys, compareKeys)

	return keys, nil
}

func compareKeys(a, b Key) int {
	switch {
	case a.Superstep != b.Superstep:
		return cmpInt(a.Superstep, b.Superstep)
	case a.Kind != b.Kind:
		return cmpInt(int64(a.Kind), int64(b.Kind))
	case a.VertexID != b.VertexID:
		return strings.Compare(a.VertexID, b.VertexID)
	}

	return strings.Compare(a.TaskID, b.TaskID)
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}

	return 1
}

// Jobs returns the ids of all jobs with a directory under the root, sorted.
func (s *Store) Jobs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, withContext(errors.Wrap(err, "list trace root"), "", "")
	}

	var jobs []string

	for _, e := range entries {
		if e.IsDir() && validateJobID(e.Name()) == nil {
			jobs = append(jobs, e.Name())
		}
	}

	return jobs, nil
}

// PutSignature records the build signature of jobID. Only the first call
// per job writes; it reports whether it did.
func (s *Store) PutSignature(ctx context.Context, jobID, signature string) (bool, error) {
	wrote, err := s.putSignature(ctx, jobID, signature)

	return wrote, withContext(err, jobID, relPath(jobID, signatureFile))
}

func (s *Store) putSignature(ctx context.Context, jobID, signature string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := validateJobID(jobID); err != nil {
		return false, err
	}

	p := filepath.Join(s.jobDir(jobID), signatureFile)

	exists, err := s.fs.Exists(p)
	if err != nil {
		return false, errors.Wrap(err, "check signature")
	}

	if exists {
		return false, nil
	}

	err = s.fs.MkdirAll(s.jobDir(jobID), dirPerm)
	if err != nil {
		return false, errors.Wrap(err, "create job directory")
	}

	err = s.fs.WriteFileAtomic(p, []byte(signature), filePerm)
	if err != nil {
		return false, errors.Wrap(err, "write signature")
	}

	return true, nil
}

// Signature returns the build signature of jobID, or [ErrNotFound].
func (s *Store) Signature(ctx context.Context, jobID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := validateJobID(jobID); err != nil {
		return "", withContext(err, jobID, "")
	}

	data, err := s.fs.ReadFile(filepath.Join(s.jobDir(jobID), signatureFile))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			err = ErrNotFound
		}

		return "", withContext(err, jobID, relPath(jobID, signatureFile))
	}

	return string(data), nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) filePath(key Key) string {
	return filepath.Join(s.root, key.JobID, key.Name())
}

func relPath(jobID, name string) string {
	return jobID + "/" + name
}

func (s *Store) frame(blob []byte) []byte {
	body := blob
	if s.compression == CompressionSnappy {
		body = snappy.Encode(nil, blob)
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, byte(s.compression))

	return append(out, body...)
}

func unframe(data []byte) ([]byte, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, ErrCorrupt
	}

	body := data[headerSize:]

	switch Compression(data[len(magic)]) {
	case CompressionNone:
		return body, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decompress"), ErrCorrupt)
		}

		return out, nil
	}

	return nil, errors.Wrapf(ErrCorrupt, "unknown codec %d", data[len(magic)])
}
