package workflow

import (
	"context"

	"github.com/sanjabh11/consultflow/model"
)

// WorkflowStore persists consultation workflows and their audit trail.
// Implementations return deep copies so callers never share state with the
// store.
type WorkflowStore interface {
	// Create persists a new workflow. Returns CONFLICT if the ID exists.
	Create(ctx context.Context, w model.Workflow) error

	// Get retrieves a workflow by ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.Workflow, error)

	// Update replaces a workflow with optimistic locking. w.Version must
	// match the stored version; on success w.Version is incremented to the
	// newly stored version. Returns CONFLICT on a version mismatch.
	Update(ctx context.Context, w *model.Workflow) error

	// List returns the workflows matching filters ordered by creation
	// time, oldest first.
	List(ctx context.Context, filters model.WorkflowFilters) ([]model.Workflow, error)

	// AppendAudit adds an entry to a workflow's audit trail.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// ListAudit returns a workflow's audit trail ordered by timestamp.
	ListAudit(ctx context.Context, workflowID string) ([]model.AuditEntry, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
