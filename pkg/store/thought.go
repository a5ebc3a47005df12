package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/store/query"
)

// ThoughtStore is the durable queue keyed by thought id (spec.md §4.1).
type ThoughtStore struct {
	s *Store
}

// Thoughts returns the ThoughtStore bound to s.
func (s *Store) Thoughts() *ThoughtStore { return &ThoughtStore{s: s} }

// Enqueue inserts a new thought in pending status.
func (t *ThoughtStore) Enqueue(ctx context.Context, th *models.Thought) error {
	ctxJSON, err := json.Marshal(th.Context)
	if err != nil {
		return apperrors.Validation("store.thoughts", "marshal context: "+err.Error())
	}
	notesJSON, err := json.Marshal(th.PonderNotes)
	if err != nil {
		return apperrors.Validation("store.thoughts", "marshal ponder notes: "+err.Error())
	}

	sqlStr, args := query.InsertInto("thoughts").
		Set("id", th.ID).
		Set("task_id", th.TaskID).
		Set("parent_id", th.ParentID).
		Set("type", string(th.Type)).
		Set("status", string(th.Status)).
		Set("round", th.Round).
		Set("depth", th.Depth).
		Set("content", th.Content).
		Set("context", ctxJSON).
		Set("ponder_notes", notesJSON).
		Set("ponder_count", th.PonderCount).
		Set("created_at", th.CreatedAt).
		Set("updated_at", th.UpdatedAt).
		Build()

	if _, err := t.s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("store.thoughts", "enqueue", err)
	}
	return nil
}

// Get fetches a thought by id.
func (t *ThoughtStore) Get(ctx context.Context, id string) (*models.Thought, error) {
	row := t.s.pool.QueryRow(ctx, `
		SELECT id, task_id, parent_id, type, status, round, depth, content,
		       context, ponder_notes, ponder_count, final_variant,
		       final_rationale, final_recorded_at, created_at, updated_at
		FROM thoughts WHERE id = $1`, id)
	return scanThought(row)
}

// Status returns just the status of a thought.
func (t *ThoughtStore) Status(ctx context.Context, id string) (models.ThoughtStatus, error) {
	th, err := t.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return th.Status, nil
}

// ByTask returns every thought belonging to a task.
func (t *ThoughtStore) ByTask(ctx context.Context, taskID string) ([]*models.Thought, error) {
	sqlStr, args := query.From("thoughts").
		Where("task_id = $%d", taskID).
		OrderBy("round ASC, created_at ASC").
		BuildSelect()
	return t.queryThoughts(ctx, sqlStr, args...)
}

// ByStatus returns every thought currently in the given status.
func (t *ThoughtStore) ByStatus(ctx context.Context, status models.ThoughtStatus) ([]*models.Thought, error) {
	sqlStr, args := query.From("thoughts").
		Where("status = $%d", string(status)).
		OrderBy("created_at ASC").
		BuildSelect()
	return t.queryThoughts(ctx, sqlStr, args...)
}

// CountPending returns the number of thoughts in pending status.
func (t *ThoughtStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := t.s.pool.QueryRow(ctx,
		`SELECT count(*) FROM thoughts WHERE status = $1`, string(models.ThoughtPending)).Scan(&n)
	if err != nil {
		return 0, apperrors.Transient("store.thoughts", "count pending", err)
	}
	return n, nil
}

// QueueSnapshot is the (pending_tasks, pending_thoughts, processing_thoughts)
// triple returned by snapshot_queue (spec.md §4.1).
type QueueSnapshot struct {
	PendingTasks       int
	PendingThoughts    int
	ProcessingThoughts int
}

// SnapshotQueue reports the current queue depth across tasks and thoughts.
func (t *ThoughtStore) SnapshotQueue(ctx context.Context) (QueueSnapshot, error) {
	var snap QueueSnapshot
	if err := t.s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE status = $1`, string(models.TaskPending),
	).Scan(&snap.PendingTasks); err != nil {
		return snap, apperrors.Transient("store.thoughts", "count pending tasks", err)
	}
	if err := t.s.pool.QueryRow(ctx,
		`SELECT count(*) FROM thoughts WHERE status = $1`, string(models.ThoughtPending),
	).Scan(&snap.PendingThoughts); err != nil {
		return snap, apperrors.Transient("store.thoughts", "count pending thoughts", err)
	}
	if err := t.s.pool.QueryRow(ctx,
		`SELECT count(*) FROM thoughts WHERE status = $1`, string(models.ThoughtProcessing),
	).Scan(&snap.ProcessingThoughts); err != nil {
		return snap, apperrors.Transient("store.thoughts", "count processing thoughts", err)
	}
	return snap, nil
}

// PendingOrderedByTaskPriority returns every pending thought ordered by its
// owning task's priority (desc) then the task's created-at (asc) — the
// round-queue population order the scheduler uses (spec.md §4.10 step 1).
func (t *ThoughtStore) PendingOrderedByTaskPriority(ctx context.Context) ([]*models.Thought, error) {
	rows, err := t.s.pool.Query(ctx, `
		SELECT th.id, th.task_id, th.parent_id, th.type, th.status, th.round, th.depth,
		       th.content, th.context, th.ponder_notes, th.ponder_count, th.final_variant,
		       th.final_rationale, th.final_recorded_at, th.created_at, th.updated_at
		FROM thoughts th
		JOIN tasks k ON k.id = th.task_id
		WHERE th.status = $1
		ORDER BY k.priority DESC, k.created_at ASC`, string(models.ThoughtPending))
	if err != nil {
		return nil, apperrors.Transient("store.thoughts", "query round queue", err)
	}
	defer rows.Close()

	var out []*models.Thought
	for rows.Next() {
		th, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("store.thoughts", "iterate round queue", err)
	}
	return out, nil
}

// UpdateStatus performs a validated status transition. The one permitted
// backward edge, processing → pending (a Ponder re-queue), is only valid
// below the ponder cap; callers enforce the cap before calling this with
// that transition (spec.md §4.1).
func (t *ThoughtStore) UpdateStatus(ctx context.Context, id string, newStatus models.ThoughtStatus, outcome *models.ActionRecord) error {
	current, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if !models.ValidThoughtTransition(current.Status, newStatus) {
		return apperrors.Invariant("store.thoughts", (&models.IllegalTransition{
			Entity: "thought", From: string(current.Status), To: string(newStatus),
		}).Error())
	}

	now := time.Now().UTC()
	if outcome != nil {
		_, err = t.s.pool.Exec(ctx,
			`UPDATE thoughts SET status = $1, final_variant = $2, final_rationale = $3,
			 final_recorded_at = $4, updated_at = $5 WHERE id = $6`,
			string(newStatus), string(outcome.Variant), outcome.Rationale, outcome.RecordedAt, now, id)
	} else if newStatus == models.ThoughtPending {
		_, err = t.s.pool.Exec(ctx,
			`UPDATE thoughts SET status = $1, ponder_count = ponder_count + 1, updated_at = $2 WHERE id = $3`,
			string(newStatus), now, id)
	} else {
		_, err = t.s.pool.Exec(ctx,
			`UPDATE thoughts SET status = $1, updated_at = $2 WHERE id = $3`,
			string(newStatus), now, id)
	}
	if err != nil {
		return apperrors.Transient("store.thoughts", "update status", err)
	}
	return nil
}

// AppendPonderNotes adds the given questions to a thought's recorded
// ponder notes (spec.md §4.6: "Ponder → re-enqueue thought with
// incremented counter and recorded questions").
func (t *ThoughtStore) AppendPonderNotes(ctx context.Context, id string, notes []models.PonderNote) error {
	th, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := append(th.PonderNotes, notes...)
	notesJSON, err := json.Marshal(merged)
	if err != nil {
		return apperrors.Validation("store.thoughts", "marshal ponder notes: "+err.Error())
	}
	_, err = t.s.pool.Exec(ctx, `UPDATE thoughts SET ponder_notes = $1, updated_at = $2 WHERE id = $3`,
		notesJSON, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Transient("store.thoughts", "append ponder notes", err)
	}
	return nil
}

func (t *ThoughtStore) queryThoughts(ctx context.Context, sqlStr string, args ...any) ([]*models.Thought, error) {
	rows, err := t.s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperrors.Transient("store.thoughts", "query", err)
	}
	defer rows.Close()

	var out []*models.Thought
	for rows.Next() {
		th, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("store.thoughts", "iterate rows", err)
	}
	return out, nil
}

func scanThought(row rowScanner) (*models.Thought, error) {
	var th models.Thought
	var ctxJSON, notesJSON []byte
	var finalVariant, finalRationale *string
	var finalRecordedAt *time.Time

	err := row.Scan(
		&th.ID, &th.TaskID, &th.ParentID, &th.Type, &th.Status, &th.Round, &th.Depth,
		&th.Content, &ctxJSON, &notesJSON, &th.PonderCount,
		&finalVariant, &finalRationale, &finalRecordedAt,
		&th.CreatedAt, &th.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Transient("store.thoughts", "scan thought", err)
	}

	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &th.Context); err != nil {
			return nil, apperrors.Transient("store.thoughts", "unmarshal context", err)
		}
	}
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &th.PonderNotes); err != nil {
			return nil, apperrors.Transient("store.thoughts", "unmarshal ponder notes", err)
		}
	}
	if finalVariant != nil {
		th.FinalAction = &models.ActionRecord{
			Variant:   models.ActionVariant(*finalVariant),
			Rationale: derefOr(finalRationale, ""),
		}
		if finalRecordedAt != nil {
			th.FinalAction.RecordedAt = *finalRecordedAt
		}
	}
	return &th, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
