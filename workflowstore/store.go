// Package workflowstore persists workflow definitions with immutable
// published versions. Content edits publish a new version; status changes
// mutate only the head record, so a running execution keeps resolving its
// steps against the exact version it started with.
package workflowstore

import (
	"context"

	"github.com/c360/journeykit/workflow"
)

// Store is the workflow definition store contract
type Store interface {
	// Publish validates the definition and stores it as the next version,
	// updating the head. The definition's Version field is ignored on
	// input and set on the returned copy.
	Publish(ctx context.Context, def *workflow.Definition) (*workflow.Definition, error)

	// Get returns the head (latest) version of the workflow, or
	// ErrVersionNotFound.
	Get(ctx context.Context, workflowID string) (*workflow.Definition, error)

	// GetVersion returns one immutable published version.
	GetVersion(ctx context.Context, workflowID string, version int) (*workflow.Definition, error)

	// UpdateStatus transitions the workflow's lifecycle status on the
	// head, enforcing the allowed transitions.
	UpdateStatus(ctx context.Context, workflowID string, to workflow.Status) error

	// List returns the head version of every stored workflow.
	List(ctx context.Context) ([]*workflow.Definition, error)
}
