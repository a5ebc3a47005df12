package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/store/query"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

// TaskStore is the repository over the tasks table (spec.md §4.1).
type TaskStore struct {
	s *Store
}

// Tasks returns the TaskStore bound to s.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// Create inserts a new task in pending status.
func (t *TaskStore) Create(ctx context.Context, task *models.Task) error {
	extra, err := json.Marshal(task.Context.Extra)
	if err != nil {
		return apperrors.Validation("store.tasks", "marshal context: "+err.Error())
	}
	sqlStr, args := query.InsertInto("tasks").
		Set("id", task.ID).
		Set("channel_id", task.ChannelID).
		Set("description", task.Description).
		Set("status", string(task.Status)).
		Set("priority", task.Priority).
		Set("parent_id", task.ParentID).
		Set("correlation_id", task.Context.CorrelationID).
		Set("context_extra", extra).
		Set("created_at", task.CreatedAt).
		Set("updated_at", task.UpdatedAt).
		Build()

	if _, err := t.s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("store.tasks", "insert task", err)
	}
	return nil
}

// Get fetches a task by id.
func (t *TaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	row := t.s.pool.QueryRow(ctx, `
		SELECT id, channel_id, description, status, priority, parent_id,
		       correlation_id, context_extra, outcome_summary, outcome_detail,
		       signer_id, signature, signed_at, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// UpdateStatus performs a validated status transition: it reads the current
// status, checks the transition, then updates the row in a separate
// statement.
func (t *TaskStore) UpdateStatus(ctx context.Context, id string, newStatus models.TaskStatus) error {
	current, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if !models.ValidTaskTransition(current.Status, newStatus) {
		return apperrors.Invariant("store.tasks", (&models.IllegalTransition{
			Entity: "task", From: string(current.Status), To: string(newStatus),
		}).Error())
	}
	_, err = t.s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(newStatus), time.Now().UTC(), id)
	if err != nil {
		return apperrors.Transient("store.tasks", "update status", err)
	}
	return nil
}

// RecordOutcome stores the terminal summary/detail for a task without
// changing its status, so handlers can attach a deferral or rejection
// payload in the same step that calls UpdateStatus.
func (t *TaskStore) RecordOutcome(ctx context.Context, id string, outcome *models.TaskOutcome) error {
	detail, err := json.Marshal(outcome.Detail)
	if err != nil {
		return apperrors.Validation("store.tasks", "marshal outcome detail: "+err.Error())
	}
	_, err = t.s.pool.Exec(ctx,
		`UPDATE tasks SET outcome_summary = $1, outcome_detail = $2, updated_at = $3 WHERE id = $4`,
		outcome.Summary, detail, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Transient("store.tasks", "record outcome", err)
	}
	return nil
}

// DeleteCascade removes tasks and their thoughts (and thought feedback,
// modeled here as ON DELETE CASCADE on thoughts.task_id) in one transaction
// (spec.md §3: "deleting a task cascades to its thoughts ... within one
// transaction").
func (t *TaskStore) DeleteCascade(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := t.s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Transient("store.tasks", "begin delete tx", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `DELETE FROM thoughts WHERE task_id = $1`, id); err != nil {
			return apperrors.Transient("store.tasks", fmt.Sprintf("delete thoughts for %s", id), err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
			return apperrors.Transient("store.tasks", fmt.Sprintf("delete task %s", id), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Transient("store.tasks", "commit delete tx", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var extra, outcomeDetail []byte
	var outcomeSummary, signerID, signature *string
	var signedAt *time.Time

	err := row.Scan(
		&task.ID, &task.ChannelID, &task.Description, &task.Status, &task.Priority,
		&task.ParentID, &task.Context.CorrelationID, &extra,
		&outcomeSummary, &outcomeDetail, &signerID, &signature, &signedAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Transient("store.tasks", "scan task", err)
	}

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &task.Context.Extra); err != nil {
			return nil, apperrors.Transient("store.tasks", "unmarshal context", err)
		}
	}
	if outcomeSummary != nil {
		task.Outcome = &models.TaskOutcome{Summary: *outcomeSummary}
		if len(outcomeDetail) > 0 {
			if err := json.Unmarshal(outcomeDetail, &task.Outcome.Detail); err != nil {
				return nil, apperrors.Transient("store.tasks", "unmarshal outcome detail", err)
			}
		}
	}
	if signerID != nil && signature != nil && signedAt != nil {
		task.Signature = &models.SignatureTriple{
			SignerID: *signerID, Sig: []byte(*signature), SignedAt: *signedAt,
		}
	}
	return &task, nil
}
