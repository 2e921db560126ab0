package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanjabh11/consultflow/model"
)

// pgSchema creates the tables used by PgWorkflowStore. The full workflow is
// kept in a JSONB document; the filterable attributes are duplicated into
// columns.
const pgSchema = `
CREATE TABLE IF NOT EXISTS consultation_workflows (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL,
	priority     TEXT NOT NULL,
	document     JSONB NOT NULL,
	version      INTEGER NOT NULL,
	created_date TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS consultation_audit (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	payload     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS consultation_audit_workflow_idx ON consultation_audit (workflow_id, created_at);
`

// PgWorkflowStore is a PostgreSQL-backed WorkflowStore using pgx/v5.
type PgWorkflowStore struct {
	pool *pgxpool.Pool
}

// NewPgWorkflowStore creates a new PostgreSQL workflow store.
func NewPgWorkflowStore(pool *pgxpool.Pool) *PgWorkflowStore {
	return &PgWorkflowStore{pool: pool}
}

// EnsureSchema creates the store's tables if they do not exist.
func (s *PgWorkflowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create consultation schema: %w", err)
	}
	return nil
}

// Create inserts a new workflow.
func (s *PgWorkflowStore) Create(ctx context.Context, w model.Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consultation_workflows (
			id, type, phase, status, priority, document, version, created_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		w.ID, w.Type, w.Phase, w.Status, w.Priority, doc, w.Version, w.CreatedDate, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", w.ID))
	}
	return nil
}

// Get retrieves a workflow by ID.
func (s *PgWorkflowStore) Get(ctx context.Context, id string) (model.Workflow, error) {
	var doc []byte
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT document, version FROM consultation_workflows WHERE id = $1`, id,
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("query workflow: %w", err)
	}
	return decodeWorkflow(doc, version)
}

// Update persists an updated workflow with optimistic locking.
func (s *PgWorkflowStore) Update(ctx context.Context, w *model.Workflow) error {
	next := *w
	next.Version = w.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE consultation_workflows SET
			phase = $1,
			status = $2,
			priority = $3,
			document = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		w.Phase, w.Status, w.Priority, doc, next.Version, w.UpdatedAt,
		w.ID, w.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, w.ID); model.IsCode(getErr, model.ErrNotFound) {
			return getErr
		}
		return model.NewConflictError(
			fmt.Sprintf("workflow %q version conflict (expected %d)", w.ID, w.Version),
		)
	}
	w.Version = next.Version
	return nil
}

// List returns matching workflows ordered by creation time.
func (s *PgWorkflowStore) List(ctx context.Context, filters model.WorkflowFilters) ([]model.Workflow, error) {
	query := `SELECT document, version FROM consultation_workflows WHERE TRUE`
	var args []any
	add := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args = append(args, values)
		query += fmt.Sprintf(" AND %s = ANY($%d)", column, len(args))
	}
	add("status", toStrings(filters.Status))
	add("type", toStrings(filters.Type))
	add("phase", toStrings(filters.Phase))
	add("priority", toStrings(filters.Priority))
	query += " ORDER BY created_date ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	result := []model.Workflow{}
	for rows.Next() {
		var doc []byte
		var version int
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		w, err := decodeWorkflow(doc, version)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// AppendAudit inserts an audit entry.
func (s *PgWorkflowStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	var payload []byte
	if len(entry.Payload) > 0 {
		payload = entry.Payload
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consultation_audit (id, workflow_id, action, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.WorkflowID, entry.Action, entry.ActorID, payload, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail for a workflow.
func (s *PgWorkflowStore) ListAudit(ctx context.Context, workflowID string) ([]model.AuditEntry, error) {
	if _, err := s.Get(ctx, workflowID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, action, actor_id, payload, created_at
		FROM consultation_audit
		WHERE workflow_id = $1
		ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Action, &e.ActorID, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if payload != nil {
			e.Payload = payload
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks connectivity to the database.
func (s *PgWorkflowStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func decodeWorkflow(doc []byte, version int) (model.Workflow, error) {
	var w model.Workflow
	if err := json.Unmarshal(doc, &w); err != nil {
		return model.Workflow{}, fmt.Errorf("unmarshal workflow: %w", err)
	}
	w.Version = version
	return w, nil
}

func toStrings[T ~string](values []T) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
