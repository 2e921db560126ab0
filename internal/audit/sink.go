// Package audit records append-only entries describing workflow mutations.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/model"
)

// Sink persists audit entries.
type Sink interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, entry model.AuditEntry) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, entry model.AuditEntry) error {
	return f(ctx, entry)
}

// --- Log sink ---

// LogSink writes every entry as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Append logs the entry.
func (s *LogSink) Append(_ context.Context, entry model.AuditEntry) error {
	s.logger.Info("audit",
		zap.String("audit_id", entry.ID),
		zap.String("workflow_id", entry.WorkflowID),
		zap.String("action", entry.Action),
		zap.String("actor_id", entry.ActorID),
		zap.ByteString("payload", entry.Payload),
		zap.Time("timestamp", entry.Timestamp),
	)
	return nil
}

// --- Store sink ---

// Appender is implemented by workflow stores that keep an audit table.
type Appender interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// StoreSink writes entries through a workflow store.
type StoreSink struct {
	store Appender
}

// NewStoreSink wraps store.
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

// Append forwards the entry to the store.
func (s *StoreSink) Append(ctx context.Context, entry model.AuditEntry) error {
	return s.store.AppendAudit(ctx, entry)
}

// --- File sink ---

// FileSink appends entries to a JSON Lines file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink writing to path. The parent directory is
// created if it does not exist.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Append writes the entry followed by a newline.
func (s *FileSink) Append(_ context.Context, entry model.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ReadFile parses a JSON Lines audit file. Malformed lines are skipped.
func ReadFile(path string) ([]model.AuditEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []model.AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// --- Multi sink ---

// MultiSink fans an entry out to several sinks. Every sink is attempted;
// the failures are joined.
type MultiSink []Sink

// Append writes entry to every sink.
func (m MultiSink) Append(ctx context.Context, entry model.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
