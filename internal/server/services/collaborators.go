// Package services contains the server-side sync engine: the push
// transaction manager, the diff-chain resolver, version history queries, the
// storage optimizer, and project lifecycle operations.
package services

import (
	"context"

	"github.com/mprihoda/geosync/internal/server/models"
)

// AccessChecker is the external permission collaborator. The engine never
// evaluates membership or roles itself; it only consumes decisions.
type AccessChecker interface {
	MayRead(ctx context.Context, project *models.Project, userID string) bool
	MayPush(ctx context.Context, project *models.Project, userID string) bool
}

// QuotaProvider reports the storage quota of a workspace in bytes; a
// negative value means unlimited.
type QuotaProvider interface {
	WorkspaceQuota(ctx context.Context, workspaceID string) (int64, error)
}

// EventType labels post-commit notifications.
type EventType string

const (
	EventVersionCreated EventType = "version_created"
	EventProjectDeleted EventType = "project_deleted"
)

// Event is delivered to hooks after a commit or deletion has succeeded.
type Event struct {
	Type    EventType
	Project *models.Project
	// Version is set for EventVersionCreated.
	Version *models.ProjectVersion
}

// Hook is a fire-and-forget post-commit callback. Hooks run in order after
// the transaction is durable and cannot roll it back; panics and errors are
// contained by the caller.
type Hook func(ctx context.Context, e Event)

// AllowAuthenticated permits any authenticated caller; the default when no
// real permission service is wired in.
type AllowAuthenticated struct{}

func (AllowAuthenticated) MayRead(_ context.Context, _ *models.Project, userID string) bool {
	return userID != ""
}

func (AllowAuthenticated) MayPush(_ context.Context, _ *models.Project, userID string) bool {
	return userID != ""
}

// UnlimitedQuota reports no storage limit for any workspace.
type UnlimitedQuota struct{}

func (UnlimitedQuota) WorkspaceQuota(_ context.Context, _ string) (int64, error) {
	return -1, nil
}
