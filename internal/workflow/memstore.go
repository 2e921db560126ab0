package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sanjabh11/consultflow/model"
)

// MemoryWorkflowStore is an in-memory WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]model.Workflow     // key: workflow ID
	audit     map[string][]model.AuditEntry // key: workflow ID
}

// NewMemoryWorkflowStore creates a new in-memory workflow store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		workflows: make(map[string]model.Workflow),
		audit:     make(map[string][]model.AuditEntry),
	}
}

// Create persists a new workflow.
func (s *MemoryWorkflowStore) Create(_ context.Context, w model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[w.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", w.ID))
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

// Get retrieves a workflow by ID.
func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workflows[id]
	if !exists {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	return w.Clone(), nil
}

// Update persists an updated workflow with optimistic locking.
func (s *MemoryWorkflowStore) Update(_ context.Context, w *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.workflows[w.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", w.ID))
	}
	if existing.Version != w.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q version conflict (expected %d, got %d)", w.ID, w.Version, existing.Version),
		)
	}

	w.Version++
	s.workflows[w.ID] = w.Clone()
	return nil
}

// List returns matching workflows ordered by creation time.
func (s *MemoryWorkflowStore) List(_ context.Context, filters model.WorkflowFilters) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		if !filters.Match(&w) {
			continue
		}
		result = append(result, w.Clone())
	}
	sortByCreation(result)
	return result, nil
}

// AppendAudit adds an entry to the workflow's audit trail.
func (s *MemoryWorkflowStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[entry.WorkflowID] = append(s.audit[entry.WorkflowID], entry)
	return nil
}

// ListAudit returns the audit trail, ordered by timestamp.
func (s *MemoryWorkflowStore) ListAudit(_ context.Context, workflowID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.workflows[workflowID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}

	entries := s.audit[workflowID]
	result := make([]model.AuditEntry, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Ping always succeeds.
func (s *MemoryWorkflowStore) Ping(context.Context) error { return nil }

// Len returns the total number of workflows. For testing.
func (s *MemoryWorkflowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

func sortByCreation(ws []model.Workflow) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].CreatedDate.Equal(ws[j].CreatedDate) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].CreatedDate.Before(ws[j].CreatedDate)
	})
}
