package models

import "time"

// Upload is the ephemeral record of one in-flight push transaction. The
// UNIQUE(project_id, version) constraint on its table is the serialization
// point guaranteeing at most one active upload per project.
type Upload struct {
	ID        string
	ProjectID string
	// Version is the project version the client is synchronized to; the
	// commit produces Version+1.
	Version   int64
	Changes   Changes
	UserID    string
	CreatedAt time.Time
}
