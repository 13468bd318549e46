// Package store is the worker's client for the translation_tasks table. Its
// surface is deliberately small and idempotent: single-row updates keyed by
// the task id, safe to repeat under at-least-once delivery.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cnyy99/giggle/internal/task"
)

// Schema is the SQL DDL for the translation_tasks table. Execute it via
// [TaskStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS translation_tasks (
    id               VARCHAR(255) PRIMARY KEY,
    status           VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    audio_file_path  VARCHAR(500),
    text_content     TEXT,
    source_language  VARCHAR(10) NOT NULL,
    target_languages VARCHAR(500) NOT NULL,
    assigned_node_id VARCHAR(255),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    result_file_path VARCHAR(500),
    error_message    TEXT,
    retry_count      INTEGER NOT NULL DEFAULT 0,
    accuracy         DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_translation_tasks_status ON translation_tasks(status);
CREATE INDEX IF NOT EXISTS idx_translation_tasks_node ON translation_tasks(assigned_node_id);
`

// ErrTaskNotFound reports that an update matched no row. Callers treat this
// as non-fatal: the gateway may have reaped the row already.
var ErrTaskNotFound = errors.New("store: task not found")

// DB is the database interface used by [TaskStore]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TaskStore issues idempotent updates against the task table.
type TaskStore struct {
	db DB
}

// New creates a TaskStore on the given connection or pool. The caller is
// responsible for sizing the pool (the engine wants MaxConcurrentTasks + 2)
// and for calling [TaskStore.Migrate] before issuing queries.
func New(db DB) *TaskStore {
	return &TaskStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the translation_tasks table
// and indexes if they do not already exist.
func (s *TaskStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// StatusUpdate carries the optional columns of a status write. Only fields
// explicitly set through the option functions are written, so a terminal
// write never clobbers values recorded earlier.
type StatusUpdate struct {
	resultPath      *string
	errorMessage    *string
	accuracy        *float64
	transcribedText *string
}

// StatusOption sets one optional column on a status update.
type StatusOption func(*StatusUpdate)

// WithResultPath records the packed result blob's absolute path.
func WithResultPath(path string) StatusOption {
	return func(u *StatusUpdate) { u.resultPath = &path }
}

// WithErrorMessage records the failure reason for a FAILED write.
func WithErrorMessage(msg string) StatusOption {
	return func(u *StatusUpdate) { u.errorMessage = &msg }
}

// WithAccuracy records the transcription accuracy score in [0, 1].
func WithAccuracy(acc float64) StatusOption {
	return func(u *StatusUpdate) { u.accuracy = &acc }
}

// WithTranscribedText records the speech transcript on the task row.
func WithTranscribedText(text string) StatusOption {
	return func(u *StatusUpdate) { u.transcribedText = &text }
}

// UpdateStatus sets the task's status and stamps updated_at. Optional
// columns are written only when provided. Returns [ErrTaskNotFound] when no
// row matched.
func (s *TaskStore) UpdateStatus(ctx context.Context, taskID string, status task.Status, opts ...StatusOption) error {
	var u StatusUpdate
	for _, o := range opts {
		o(&u)
	}

	assignments := []string{"status = $2", "updated_at = now()"}
	args := []any{taskID, status.String()}
	addColumn := func(col string, v any) {
		args = append(args, v)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.resultPath != nil {
		addColumn("result_file_path", *u.resultPath)
	}
	if u.errorMessage != nil {
		addColumn("error_message", *u.errorMessage)
	}
	if u.accuracy != nil {
		addColumn("accuracy", *u.accuracy)
	}
	if u.transcribedText != nil {
		addColumn("text_content", *u.transcribedText)
	}

	query := fmt.Sprintf("UPDATE translation_tasks SET %s WHERE id = $1", strings.Join(assignments, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update status of %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// UpdateAssignedNode claims the task for nodeID. The bool result reports
// whether a row was updated; false means the task row does not exist.
func (s *TaskStore) UpdateAssignedNode(ctx context.Context, taskID, nodeID string) (bool, error) {
	const query = `
		UPDATE translation_tasks
		SET assigned_node_id = $2, updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, taskID, nodeID)
	if err != nil {
		return false, fmt.Errorf("store: assign %s to %s: %w", taskID, nodeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementRetryCount bumps retry_count atomically.
func (s *TaskStore) IncrementRetryCount(ctx context.Context, taskID string) error {
	const query = `
		UPDATE translation_tasks
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("store: increment retry count of %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// Row is the full task row as stored.
type Row struct {
	ID              string
	Status          task.Status
	AudioFilePath   *string
	TextContent     *string
	SourceLanguage  string
	TargetLanguages string
	AssignedNodeID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResultFilePath  *string
	ErrorMessage    *string
	RetryCount      int
	Accuracy        *float64
}

// GetTask reads one task row. Returns [ErrTaskNotFound] if the id is
// unknown.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*Row, error) {
	const query = `
		SELECT id, status, audio_file_path, text_content, source_language,
		       target_languages, assigned_node_id, created_at, updated_at,
		       result_file_path, error_message, retry_count, accuracy
		FROM translation_tasks
		WHERE id = $1`

	var (
		row       Row
		statusStr string
	)
	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&row.ID, &statusStr, &row.AudioFilePath, &row.TextContent,
		&row.SourceLanguage, &row.TargetLanguages, &row.AssignedNodeID,
		&row.CreatedAt, &row.UpdatedAt, &row.ResultFilePath,
		&row.ErrorMessage, &row.RetryCount, &row.Accuracy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("store: get %s: %w", taskID, err)
	}

	status, ok := task.ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("store: task %s has unknown status %q", taskID, statusStr)
	}
	row.Status = status
	return &row, nil
}
