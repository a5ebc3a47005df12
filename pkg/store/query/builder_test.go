package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderSelectWithWhereAndOrder(t *testing.T) {
	sqlStr, args := From("thoughts").
		Select("id", "status").
		Where("task_id = $%d", "task-1").
		Where("status = $%d", "pending").
		OrderBy("created_at ASC").
		Limit(10).
		BuildSelect()

	assert.Equal(t,
		"SELECT id, status FROM thoughts WHERE task_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT 10",
		sqlStr)
	assert.Equal(t, []any{"task-1", "pending"}, args)
}

func TestBuilderSelectNoConditions(t *testing.T) {
	sqlStr, args := From("tasks").BuildSelect()
	assert.Equal(t, "SELECT * FROM tasks", sqlStr)
	assert.Empty(t, args)
}

func TestInsertBuilderPlainInsert(t *testing.T) {
	sqlStr, args := InsertInto("tasks").
		Set("id", "task-1").
		Set("status", "pending").
		Build()

	assert.Equal(t, "INSERT INTO tasks (id, status) VALUES ($1, $2)", sqlStr)
	assert.Equal(t, []any{"task-1", "pending"}, args)
}

func TestInsertBuilderUpsert(t *testing.T) {
	sqlStr, _ := InsertInto("thoughts").
		Set("id", "t-1").
		Set("status", "processing").
		OnConflict("id", "status").
		Build()

	assert.Equal(t,
		"INSERT INTO thoughts (id, status) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status",
		sqlStr)
}

func TestInsertBuilderConflictDoNothing(t *testing.T) {
	sqlStr, _ := InsertInto("tasks").Set("id", "t-1").OnConflict("id").Build()
	assert.Equal(t, "INSERT INTO tasks (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", sqlStr)
}

func TestBuilderDelete(t *testing.T) {
	sqlStr, args := From("thoughts").Where("task_id = $%d", "task-1").BuildDelete()
	assert.Equal(t, "DELETE FROM thoughts WHERE task_id = $1", sqlStr)
	assert.Equal(t, []any{"task-1"}, args)
}
