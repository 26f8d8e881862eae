package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "projects"), filepath.Join(base, "trash"))
	require.NoError(t, err)
	return s
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.gpkg", want: "a.gpkg"},
		{in: "data/survey.gpkg", want: "data/survey.gpkg"},
		{in: "data//x.txt", want: "data/x.txt"},
		{in: "../escape", wantErr: true},
		{in: "/abs/path", wantErr: true},
		{in: "a/../..", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizePath(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSaveStream(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.TxnChunksDir("p1", "t1"), "c1")

	sum, n, err := s.SaveStream(path, strings.NewReader("chunk-data"), 1024, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.NotEmpty(t, sum)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chunk-data", string(got))
}

func TestSaveStream_TooLarge(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.TxnChunksDir("p1", "t1"), "c1")

	_, _, err := s.SaveStream(path, strings.NewReader("0123456789"), 5, nil)
	assert.ErrorIs(t, err, common.ErrChunkTooLarge)

	// The partial write was quarantined, not left in place.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConcat(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	p1 := filepath.Join(dir, "c1")
	p2 := filepath.Join(dir, "c2")
	require.NoError(t, os.WriteFile(p1, []byte("hello "), 0o660))
	require.NoError(t, os.WriteFile(p2, []byte("world"), 0o660))

	dst := filepath.Join(dir, "out", "file.txt")
	sum, n, err := s.Concat(dst, []string{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.NotEmpty(t, sum)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestConcat_MissingChunk(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	_, _, err := s.Concat(filepath.Join(dir, "out"), []string{filepath.Join(dir, "absent")})
	assert.ErrorContains(t, err, "missing chunk")
}

func TestMoveToTrash(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InitTxn("p1", "t1"))

	dst, err := s.MoveToTrash(s.TxnDir("p1", "t1"))
	require.NoError(t, err)

	_, statErr := os.Stat(s.TxnDir("p1", "t1"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dst, Lockfile))
	assert.NoError(t, statErr)
}

func TestInitTxnAndExists(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InitTxn("p1", "t1"))

	_, err := os.Stat(s.TxnLockfile("p1", "t1"))
	assert.NoError(t, err)

	assert.False(t, s.Exists("p1", "v1/a.txt"))
	full := s.FilePath("p1", "v1/a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o770))
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o660))
	assert.True(t, s.Exists("p1", "v1/a.txt"))
}
