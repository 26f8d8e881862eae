package models

import (
	"fmt"

	"github.com/mprihoda/geosync/internal/common"
)

// FileMeta is the client-declared metadata for one added or updated file in
// a change set.
type FileMeta struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	// Chunks lists the server-issued chunk ids the content arrives in, in
	// concatenation order.
	Chunks []string `json:"chunks,omitempty"`
	// Diff, when set on an updated file, declares that the upload carries a
	// binary delta instead of the full content. Size and Checksum above then
	// describe the resulting full file.
	Diff *DiffMeta `json:"diff,omitempty"`
}

// Changes is the declared change set of one push, validated once at the
// boundary.
type Changes struct {
	Added   []FileMeta `json:"added"`
	Updated []FileMeta `json:"updated"`
	Removed []FileMeta `json:"removed"`
}

// Empty reports whether the change set declares nothing.
func (c *Changes) Empty() bool {
	return len(c.Added)+len(c.Updated)+len(c.Removed) == 0
}

// Incoming returns the files whose content (or diff) the client uploads:
// added then updated, in declaration order.
func (c *Changes) Incoming() []FileMeta {
	out := make([]FileMeta, 0, len(c.Added)+len(c.Updated))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	return out
}

// ChunkDeclared reports whether chunkID belongs to one of the incoming
// files, and for which one.
func (c *Changes) ChunkDeclared(chunkID string) (FileMeta, bool) {
	for _, f := range c.Incoming() {
		for _, ch := range f.Chunks {
			if ch == chunkID {
				return f, true
			}
		}
	}
	return FileMeta{}, false
}

// Validate checks internal consistency of the change set against the
// current file listing of the project (path -> current change row).
//
// Rules: the set must be non-empty; no path may appear twice across the
// three groups; removed and updated paths must exist; added paths must not.
func (c *Changes) Validate(current map[string]*FileChange) error {
	if c.Empty() {
		return common.ErrEmptyChanges
	}

	seen := make(map[string]struct{})
	for _, group := range [][]FileMeta{c.Added, c.Updated, c.Removed} {
		for _, f := range group {
			if f.Path == "" {
				return fmt.Errorf("%w: empty path", common.ErrInconsistentChanges)
			}
			if _, dup := seen[f.Path]; dup {
				return fmt.Errorf("%w: duplicate path %q", common.ErrInconsistentChanges, f.Path)
			}
			seen[f.Path] = struct{}{}
		}
	}

	for _, f := range c.Added {
		if _, ok := current[f.Path]; ok {
			return fmt.Errorf("%w: added file %q already exists", common.ErrInconsistentChanges, f.Path)
		}
	}
	for _, group := range [][]FileMeta{c.Updated, c.Removed} {
		for _, f := range group {
			if _, ok := current[f.Path]; !ok {
				return fmt.Errorf("%w: file %q not found in project", common.ErrInconsistentChanges, f.Path)
			}
		}
	}
	return nil
}
