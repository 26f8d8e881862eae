// Package common defines shared constants and sentinel errors used across
// geosync components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Push protocol errors. ErrVersionConflict means the client is not
	// synchronized to the project tip (or two commits raced); clients should
	// refresh and retry. ErrAnotherUploadRunning means a live transaction
	// already holds the project.
	ErrVersionConflict      = errors.New("version conflict")
	ErrAnotherUploadRunning = errors.New("another upload is running")
	ErrUploadExists         = errors.New("upload already exists")

	// ErrProjectActive guards irreversible deletion: a project must be
	// soft-removed first.
	ErrProjectActive = errors.New("project is not removed")

	// Change-set validation errors.
	ErrEmptyChanges        = errors.New("no changes")
	ErrInconsistentChanges = errors.New("inconsistent changes")

	// Chunk/transfer errors.
	ErrChunkNotDeclared = errors.New("chunk not declared")
	ErrChunkTooLarge    = errors.New("chunk exceeds maximum size")

	// Storage quota exceeded for the owning workspace.
	ErrStorageLimit = errors.New("storage limit exceeded")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
