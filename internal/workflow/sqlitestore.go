package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sanjabh11/consultflow/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS consultation_workflows (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL,
	priority     TEXT NOT NULL,
	document     TEXT NOT NULL,
	version      INTEGER NOT NULL,
	created_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS consultation_audit (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL REFERENCES consultation_workflows(id),
	action       TEXT NOT NULL,
	actor_id     TEXT NOT NULL,
	payload      TEXT,
	created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS consultation_audit_workflow_idx ON consultation_audit (workflow_id, created_unix);
`

// SQLiteWorkflowStore is a WorkflowStore backed by a single SQLite file,
// suited to single-node deployments.
type SQLiteWorkflowStore struct {
	db *sql.DB
}

// OpenSQLiteWorkflowStore opens (creating if needed) the database at path
// and applies the schema.
func OpenSQLiteWorkflowStore(ctx context.Context, path string) (*SQLiteWorkflowStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create consultation schema: %w", err)
	}
	return &SQLiteWorkflowStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteWorkflowStore) Close() error {
	return s.db.Close()
}

// Create inserts a new workflow.
func (s *SQLiteWorkflowStore) Create(ctx context.Context, w model.Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consultation_workflows (id, type, phase, status, priority, document, version, created_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		w.ID, string(w.Type), string(w.Phase), string(w.Status), string(w.Priority),
		string(doc), w.Version, w.CreatedDate.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", w.ID))
	}
	return nil
}

// Get retrieves a workflow by ID.
func (s *SQLiteWorkflowStore) Get(ctx context.Context, id string) (model.Workflow, error) {
	var doc string
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version FROM consultation_workflows WHERE id = ?`, id,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("query workflow: %w", err)
	}
	return decodeWorkflow([]byte(doc), version)
}

// Update persists an updated workflow with optimistic locking.
func (s *SQLiteWorkflowStore) Update(ctx context.Context, w *model.Workflow) error {
	next := *w
	next.Version = w.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE consultation_workflows
		SET phase = ?, status = ?, priority = ?, document = ?, version = ?
		WHERE id = ? AND version = ?`,
		string(w.Phase), string(w.Status), string(w.Priority), string(doc), next.Version,
		w.ID, w.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
func (s *SQLiteWorkflowStore) List(ctx context.Context, filters model.WorkflowFilters) ([]model.Workflow, error) {
	var where []string
	var args []any
	add := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		where = append(where, fmt.Sprintf("%s IN (%s)", column, marks))
		for _, v := range values {
			args = append(args, v)
		}
	}
	add("status", toStrings(filters.Status))
	add("type", toStrings(filters.Type))
	add("phase", toStrings(filters.Phase))
	add("priority", toStrings(filters.Priority))

	query := `SELECT document, version FROM consultation_workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_unix ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	result := []model.Workflow{}
	for rows.Next() {
		var doc string
		var version int
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		w, err := decodeWorkflow([]byte(doc), version)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// AppendAudit inserts an audit entry.
func (s *SQLiteWorkflowStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	var payload sql.NullString
	if len(entry.Payload) > 0 {
		payload = sql.NullString{String: string(entry.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consultation_audit (id, workflow_id, action, actor_id, payload, created_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WorkflowID, entry.Action, entry.ActorID, payload, entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail for a workflow.
func (s *SQLiteWorkflowStore) ListAudit(ctx context.Context, workflowID string) ([]model.AuditEntry, error) {
	if _, err := s.Get(ctx, workflowID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, action, actor_id, payload, created_unix
		FROM consultation_audit
		WHERE workflow_id = ?
		ORDER BY created_unix ASC, rowid ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		var payload sql.NullString
		var unix int64
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Action, &e.ActorID, &payload, &unix); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.Timestamp = time.Unix(0, unix).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks that the database file is usable.
func (s *SQLiteWorkflowStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
