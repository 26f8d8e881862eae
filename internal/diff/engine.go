// Package diff wraps an external binary-diff capability for GeoPackage
// files. The engine itself (geodiff) is an external dependency; this package
// only shells out to it and interprets failures.
package diff

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrApplyFailed marks a structurally conflicting or corrupted changeset.
// The underlying engine diagnostic is wrapped alongside it.
var ErrApplyFailed = errors.New("changeset could not be applied")

// Engine is the binary-diff capability used by the sync engine. All paths
// are absolute filesystem paths; changesets are opaque blobs.
type Engine interface {
	// Create writes a changeset transforming base into modified.
	Create(ctx context.Context, base, modified, output string) error

	// Apply mutates base in place by applying the changeset.
	Apply(ctx context.Context, base, changeset string) error

	// Invert writes the reverse of a changeset.
	Invert(ctx context.Context, changeset, output string) error

	// Concat merges an ordered sequence of changesets into one.
	Concat(ctx context.Context, output string, changesets ...string) error
}

// diffableExtensions lists file formats the engine understands. Everything
// else is synced as opaque full copies.
var diffableExtensions = map[string]struct{}{
	".gpkg": {},
}

// IsDiffable reports whether the file format at path supports structural
// diffs.
func IsDiffable(path string) bool {
	_, ok := diffableExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
