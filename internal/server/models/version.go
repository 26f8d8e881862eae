package models

import "time"

// ChangeKind classifies one file change within a project version.
type ChangeKind string

const (
	// ChangeCreate adds a file that did not exist before. The physical file
	// is self-contained (a basefile point).
	ChangeCreate ChangeKind = "create"
	// ChangeUpdate overwrites a file with a full copy (a basefile point).
	ChangeUpdate ChangeKind = "update"
	// ChangeUpdateDiff updates a file via a binary diff against its previous
	// persisted state.
	ChangeUpdateDiff ChangeKind = "update_diff"
	// ChangeDelete removes a file from the project.
	ChangeDelete ChangeKind = "delete"
)

// Basefile reports whether a row of this kind carries a self-contained
// physical file usable as a diff-chain anchor.
func (k ChangeKind) Basefile() bool {
	return k == ChangeCreate || k == ChangeUpdate
}

// ProjectVersion is one immutable entry of a project's append-only history.
// Names are contiguous per project and increase by exactly 1 per commit.
type ProjectVersion struct {
	ID          string
	ProjectID   string
	Name        int64
	Author      string
	CreatedAt   time.Time
	UserAgent   string
	IPAddress   string
	ProjectSize int64

	// Changes are the per-file rows committed with this version; loaded on
	// demand, one row per touched path.
	Changes []*FileChange
}

// FileChange is one file_history row: a single file touched in a version.
type FileChange struct {
	ID        string
	VersionID string
	// Version is the owning version's name, populated by joined queries.
	Version  int64
	Path     string
	Location string
	Size     int64
	Checksum string
	Change   ChangeKind

	// Diff describes the binary delta for ChangeUpdateDiff rows; nil
	// otherwise.
	Diff *DiffMeta
}

// DiffMeta describes a stored binary diff blob.
type DiffMeta struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	Location string `json:"location,omitempty"`
}

// SyncFailure is an audit record appended whenever a push is lost, aborted
// as corrupted, or otherwise fails server-side.
type SyncFailure struct {
	ProjectID    string
	LastVersion  int64
	UserID       string
	ErrorType    string
	ErrorDetails string
	CreatedAt    time.Time
}
