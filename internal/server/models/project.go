// Package models defines server-side data models persisted in the database.
package models

import "time"

// Project is a versioned directory of files owned by a workspace.
//
// LatestVersion always equals the highest committed version name for the
// project, or 0 when no version exists yet. It is mutated only by version
// commits and by delete/restore operations.
type Project struct {
	ID            string
	Name          string
	WorkspaceID   string
	LatestVersion int64
	TotalSize     int64
	CreatedAt     time.Time

	// Soft-deletion markers. A project with RemovedAt set is hidden from
	// reads and rejects pushes until restored.
	RemovedAt *time.Time
	RemovedBy string
}

// Removed reports whether the project is soft-deleted.
func (p *Project) Removed() bool {
	return p.RemovedAt != nil
}
