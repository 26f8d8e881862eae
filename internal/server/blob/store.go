// Package blob implements the on-disk layout for project data: committed
// version directories, per-transaction working areas, a scratch space for
// reconstruction, and a trash area that absorbs everything removed from the
// live tree. Nothing here deletes synchronously on a request path; removal
// is always a move into trash for the sweeper to reclaim later.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/filex"
)

// Layout under the storage root:
//
//	<root>/<project-id>/v<N>/<path>            committed content of version N
//	<root>/<project-id>/v<N>/<path>-diff-<id>  diff blob for an update in N
//	<root>/<project-id>/tmp/<txn>/chunks/      received chunks
//	<root>/<project-id>/tmp/<txn>/files/       staged files, renamed to v<N>
//	<root>/<project-id>/tmp/<txn>/lockfile     heartbeat
//
// Trash lives outside the storage root, keyed by random ids.
type Store struct {
	root    string
	trash   string
	scratch string
}

// Lockfile is the heartbeat file name inside a transaction directory.
const Lockfile = "lockfile"

func NewStore(root, trash string) (*Store, error) {
	s := &Store{
		root:    root,
		trash:   trash,
		scratch: filepath.Join(trash, ".scratch"),
	}
	for _, dir := range []string{root, trash, s.scratch} {
		if err := filex.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// VersionDirName returns the directory name of version v ("v3").
func VersionDirName(v int64) string {
	return fmt.Sprintf("v%d", v)
}

// SanitizePath normalizes a client-declared file path and rejects anything
// escaping the project tree.
func SanitizePath(path string) (string, error) {
	p := filepath.ToSlash(filepath.Clean(path))
	if p == "." || p == "" || strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return p, nil
}

func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

func (s *Store) VersionDir(projectID string, v int64) string {
	return filepath.Join(s.ProjectDir(projectID), VersionDirName(v))
}

// FilePath resolves a ledger location ("v3/data/a.gpkg") to an absolute path.
func (s *Store) FilePath(projectID, location string) string {
	return filepath.Join(s.ProjectDir(projectID), filepath.FromSlash(location))
}

func (s *Store) TxnDir(projectID, txnID string) string {
	return filepath.Join(s.ProjectDir(projectID), "tmp", txnID)
}

func (s *Store) TxnChunksDir(projectID, txnID string) string {
	return filepath.Join(s.TxnDir(projectID, txnID), "chunks")
}

func (s *Store) TxnFilesDir(projectID, txnID string) string {
	return filepath.Join(s.TxnDir(projectID, txnID), "files")
}

func (s *Store) TxnLockfile(projectID, txnID string) string {
	return filepath.Join(s.TxnDir(projectID, txnID), Lockfile)
}

// InitTxn creates the working area of a transaction and its heartbeat file.
func (s *Store) InitTxn(projectID, txnID string) error {
	for _, dir := range []string{s.TxnChunksDir(projectID, txnID), s.TxnFilesDir(projectID, txnID)} {
		if err := filex.EnsureDir(dir); err != nil {
			return err
		}
	}
	return filex.Touch(s.TxnLockfile(projectID, txnID))
}

// SaveStream writes r to path in bounded increments, enforcing limit bytes.
// The onChunk callback runs after every increment. On overflow the partial
// write is moved to trash and ErrChunkTooLarge is returned; only this write
// is affected, not its transaction. Returns checksum and size.
func (s *Store) SaveStream(path string, r io.Reader, limit int64, onChunk func()) (string, int64, error) {
	if err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return "", 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}

	sum, n, err := filex.CopyChunked(f, io.LimitReader(r, limit+1), onChunk)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_, _ = s.MoveToTrash(path)
		return "", 0, err
	}
	if n > limit {
		_, _ = s.MoveToTrash(path)
		return "", 0, common.ErrChunkTooLarge
	}
	return sum, n, nil
}

// Concat appends parts into dst in declaration order, with bounded reads.
// Returns the checksum and size of the assembled file.
func (s *Store) Concat(dst string, parts []string) (string, int64, error) {
	if err := filex.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	readers := make([]io.Reader, 0, len(parts))
	files := make([]*os.File, 0, len(parts))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, p := range parts {
		f, err := os.Open(p)
		if err != nil {
			return "", 0, fmt.Errorf("missing chunk %s: %w", filepath.Base(p), err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	sum, n, err := filex.CopyChunked(out, io.MultiReader(readers...), nil)
	if err != nil {
		return "", 0, err
	}
	return sum, n, nil
}

// MoveToTrash moves path (file or directory) into the trash area under a
// fresh random key and returns the destination.
func (s *Store) MoveToTrash(path string) (string, error) {
	dst := filepath.Join(s.trash, uuid.NewString(), filepath.Base(path))
	if err := filex.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", err
	}
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("trash %s: %w", path, err)
	}
	return dst, nil
}

// NewScratchDir creates a fresh directory for intermediate reconstruction
// work. Callers move it to trash when done.
func (s *Store) NewScratchDir() (string, error) {
	dir := filepath.Join(s.scratch, uuid.NewString())
	if err := filex.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Exists reports whether the file at the ledger location is physically
// present.
func (s *Store) Exists(projectID, location string) bool {
	fi, err := os.Stat(s.FilePath(projectID, location))
	return err == nil && fi.Mode().IsRegular()
}

// Open opens a committed file for streaming reads.
func (s *Store) Open(projectID, location string) (*os.File, error) {
	return os.Open(s.FilePath(projectID, location))
}
