// Package filex contains filesystem helpers shared by the storage layer:
// bounded-buffer copies, checksum computation, and atomic moves that fall
// back to copy+delete across devices.
package filex

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var timeNow = time.Now

// CopyBufferSize is the read increment used for all streaming copies so that
// one slow transfer never holds a large buffer or blocks in a single call.
const CopyBufferSize = 32 * 1024

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// EnsureSubDir creates a subdirectory under the current working directory
// and returns its absolute path.
func EnsureSubDir(dirName string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}

	dir := filepath.Join(cwd, dirName)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// CopyChunked streams src into dst in CopyBufferSize increments, hashing the
// content on the way through. The optional onChunk callback runs after every
// increment; transfer loops use it to refresh liveness markers. Returns the
// hex checksum and the number of bytes written.
func CopyChunked(dst io.Writer, src io.Reader, onChunk func()) (string, int64, error) {
	h := sha1.New()
	w := io.MultiWriter(dst, h)

	var written int64
	buf := make([]byte, CopyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return "", written, werr
			}
			written += int64(n)
			if onChunk != nil {
				onChunk()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", written, err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), written, nil
}

// Checksum returns the hex checksum of the file at path, computed in bounded
// increments.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, _, err := CopyChunked(io.Discard, f, nil)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return sum, nil
}

// CopyFile copies src to dst (creating parent directories), preserving
// nothing but content. Returns the checksum and size of the copied data.
func CopyFile(src, dst string) (string, int64, error) {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return "", 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}

	sum, n, err := CopyChunked(out, in, nil)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return sum, n, nil
}

// MoveAtomic renames src to dst, creating dst's parent directories. When the
// rename fails because src and dst are on different devices, it falls back to
// copying into a temporary sibling of dst and renaming that into place, so
// readers never observe a partially written dst.
func MoveAtomic(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	tmp := dst + ".partial"
	if _, _, err := CopyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, dst, err)
	}
	return os.Remove(src)
}

// Touch updates the modification time of path, creating it when missing.
func Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		return err
	}
	f.Close()
	now := timeNow()
	return os.Chtimes(path, now, now)
}
