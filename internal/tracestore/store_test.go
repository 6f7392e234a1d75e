package tracestore_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/graftdebug/graft/internal/tracestore"
	"github.com/graftdebug/graft/pkg/fs"
)

func openStore(t *testing.T, c tracestore.Compression) *tracestore.Store {
	t.Helper()

	s, err := tracestore.Open(fs.NewReal(), t.TempDir(), tracestore.Options{Compression: c})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return s
}

func regKey(job string, superstep int64, vertex string) tracestore.Key {
	return tracestore.Key{JobID: job, Superstep: superstep, VertexID: vertex, Kind: tracestore.KindRegular}
}

func TestPutGetIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, c := range []tracestore.Compression{tracestore.CompressionNone, tracestore.CompressionSnappy} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s := openStore(t, c)
			key := regKey("job1", 3, "7")
			blob := bytes.Repeat([]byte("scenario"), 100)

			require.NoError(t, s.Put(ctx, key, blob))
			require.NoError(t, s.Put(ctx, key, blob))

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.Equal(t, blob, got)

			_, err = os.Stat(filepath.Join(s.Root(), "job1", "reg_stp_3_vid_7.tr"))
			require.NoError(t, err)
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, tracestore.CompressionNone)
	key := regKey("job1", 0, "1")

	require.NoError(t, s.Put(ctx, key, []byte("old")))
	require.NoError(t, s.Put(ctx, key, []byte("new")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestGetReadsEitherCompression(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	key := regKey("job1", 1, "1")

	w, err := tracestore.Open(fs.NewReal(), root, tracestore.Options{Compression: tracestore.CompressionSnappy})
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, key, []byte("compressed")))

	r, err := tracestore.Open(fs.NewReal(), root, tracestore.Options{})
	require.NoError(t, err)

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "compressed", string(got))
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := openStore(t, tracestore.CompressionNone)
	key := tracestore.Key{JobID: "job1", Superstep: 3, VertexID: "7", Kind: tracestore.KindException}

	_, err := s.Get(context.Background(), key)
	if !errors.Is(err, tracestore.ErrNotFound) {
		t.Fatalf("Get err=%v, want ErrNotFound", err)
	}

	var serr *tracestore.Error
	if !errors.As(err, &serr) {
		t.Fatalf("Get err=%T, want *tracestore.Error", err)
	}

	if serr.JobID != "job1" || serr.Key != "job1/err_stp_3_vid_7.tr" {
		t.Fatalf("error context=(%q, %q)", serr.JobID, serr.Key)
	}
}

func TestGetCorruptBlob(t *testing.T) {
	t.Parallel()

	s := openStore(t, tracestore.CompressionNone)
	key := regKey("job1", 1, "1")

	dir := filepath.Join(s.Root(), "job1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, data := range [][]byte{
		[]byte("xx"),
		[]byte("NOPE...."),
		[]byte("GRT\x09data"),
		[]byte("GRT\x01not snappy"),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, key.Name()), data, 0o644))

		_, err := s.Get(context.Background(), key)
		if !errors.Is(err, tracestore.ErrCorrupt) {
			t.Errorf("Get(%q) err=%v, want ErrCorrupt", data, err)
		}
	}
}

func TestListParsesNamesAndIgnoresStrays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, tracestore.CompressionNone)

	keys := []tracestore.Key{
		{JobID: "job1", Superstep: 2, VertexID: "9", Kind: tracestore.KindRegular},
		{JobID: "job1", Superstep: 1, VertexID: "7", Kind: tracestore.KindException},
		{JobID: "job1", Superstep: 1, VertexID: "7", Kind: tracestore.KindRegular},
		{JobID: "job1", Superstep: 1, TaskID: "t1", Kind: tracestore.KindMessageViolation},
		{JobID: "job1", Superstep: 1, Kind: tracestore.KindMasterRegular},
	}

	for _, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}

	// Unrelated files and other jobs do not show up.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "job1", "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "job1", "bogus_stp_1.tr"), nil, 0o644))
	require.NoError(t, s.Put(ctx, regKey("job2", 1, "1"), []byte("x")))

	_, err := s.PutSignature(ctx, "job1", "sig")
	require.NoError(t, err)

	got, err := s.List(ctx, "job1")
	require.NoError(t, err)

	want := []tracestore.Key{keys[2], keys[1], keys[3], keys[4], keys[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}

	none, err := s.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, none)

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"job1", "job2"}, jobs)
}

func TestQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, tracestore.CompressionNone)

	for _, k := range []tracestore.Key{
		{JobID: "j", Superstep: 0, VertexID: "1", Kind: tracestore.KindRegular},
		{JobID: "j", Superstep: 0, VertexID: "2", Kind: tracestore.KindRegular},
		{JobID: "j", Superstep: 2, VertexID: "2", Kind: tracestore.KindException},
		{JobID: "j", Superstep: 2, VertexID: "3", Kind: tracestore.KindMessageViolation},
		{JobID: "j", Superstep: 2, TaskID: "ta", Kind: tracestore.KindMessageViolation},
		{JobID: "j", Superstep: 2, TaskID: "tb", Kind: tracestore.KindMessageViolation},
		{JobID: "j", Superstep: 2, TaskID: "tc", Kind: tracestore.KindVertexViolation},
		{JobID: "j", Superstep: 1, Kind: tracestore.KindMasterRegular},
		{JobID: "j", Superstep: 3, Kind: tracestore.KindMasterException},
	} {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}

	steps, err := s.Supersteps(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2}, steps)

	master, err := s.MasterSupersteps(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, master)

	vertices, err := s.Vertices(ctx, "j", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, vertices)

	vertices, err = s.Vertices(ctx, "j", 2, tracestore.KindMessageViolation)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, vertices)

	tasks, err := s.Tasks(ctx, "j", 2, tracestore.KindMessageViolation)
	require.NoError(t, err)
	require.Equal(t, []string{"ta", "tb"}, tasks)

	tasks, err = s.Tasks(ctx, "j", 2, tracestore.KindVertexViolation)
	require.NoError(t, err)
	require.Equal(t, []string{"tc"}, tasks)
}

func TestSignatureWrittenOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, tracestore.CompressionNone)

	_, err := s.Signature(ctx, "job1")
	require.True(t, errors.Is(err, tracestore.ErrNotFound), "err=%v", err)

	wrote, err := s.PutSignature(ctx, "job1", "build-a")
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = s.PutSignature(ctx, "job1", "build-b")
	require.NoError(t, err)
	require.False(t, wrote)

	sig, err := s.Signature(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, "build-a", sig)
}

func TestPutFailureCarriesContext(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{WriteFailRate: 1})

	s, err := tracestore.Open(chaos, t.TempDir(), tracestore.Options{})
	require.NoError(t, err)

	key := regKey("job1", 3, "7")

	err = s.Put(context.Background(), key, []byte("x"))
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err), "err=%v", err)

	var serr *tracestore.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, "job1/reg_stp_3_vid_7.tr", serr.Key)

	chaos.SetMode(fs.ChaosModeNoOp)

	_, err = s.Get(context.Background(), key)
	require.True(t, errors.Is(err, tracestore.ErrNotFound), "failed put left a trace: %v", err)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	s := openStore(t, tracestore.CompressionNone)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Put(ctx, regKey("j", 0, "1"), []byte("x")), context.Canceled)

	_, err := s.List(ctx, "j")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPutRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	s := openStore(t, tracestore.CompressionNone)

	err := s.Put(context.Background(), tracestore.Key{JobID: "j", Kind: tracestore.KindRegular}, nil)
	require.True(t, errors.Is(err, tracestore.ErrInvalidKey), "err=%v", err)
}
