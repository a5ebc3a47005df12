// Package query is a small typed SQL builder shared by the Thought Store,
// Task Store, Audit Chain, and Graph Memory repositories, so query
// assembly never falls back to ad hoc string concatenation at call sites.
package query

import (
	"fmt"
	"strings"
)

// Builder accumulates a SELECT or DELETE statement and its positional
// arguments; inserts use InsertBuilder.
type Builder struct {
	table  string
	cols   []string
	wheres []string
	args   []any
	order  string
	limit  int
}

// From starts a builder against the given table.
func From(table string) *Builder {
	return &Builder{table: table}
}

// Select sets the projected columns.
func (b *Builder) Select(cols ...string) *Builder {
	b.cols = cols
	return b
}

// Where appends a condition using $N placeholders; value is bound
// positionally regardless of how many Where calls precede it.
func (b *Builder) Where(cond string, value any) *Builder {
	b.args = append(b.args, value)
	b.wheres = append(b.wheres, fmt.Sprintf(cond, len(b.args)))
	return b
}

// OrderBy sets the ORDER BY clause verbatim (caller-controlled, not
// user input).
func (b *Builder) OrderBy(clause string) *Builder {
	b.order = clause
	return b
}

// Limit caps the result set.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// BuildSelect renders the accumulated SELECT statement and its arguments.
func (b *Builder) BuildSelect() (string, []any) {
	cols := "*"
	if len(b.cols) > 0 {
		cols = strings.Join(b.cols, ", ")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.table)
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if b.order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.order)
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), b.args
}

// BuildDelete renders a DELETE statement matching the accumulated WHERE
// clauses.
func (b *Builder) BuildDelete() (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s", b.table)
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	return sb.String(), b.args
}

// InsertBuilder accumulates an INSERT ... ON CONFLICT statement.
type InsertBuilder struct {
	table    string
	cols     []string
	args     []any
	conflict string
	doUpdate []string
}

// InsertInto starts an insert against the given table.
func InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Set adds a column/value pair.
func (b *InsertBuilder) Set(col string, value any) *InsertBuilder {
	b.cols = append(b.cols, col)
	b.args = append(b.args, value)
	return b
}

// OnConflict configures an upsert: conflictCols identifies the unique
// constraint, updateCols lists the columns to overwrite on conflict.
func (b *InsertBuilder) OnConflict(conflictCols string, updateCols ...string) *InsertBuilder {
	b.conflict = conflictCols
	b.doUpdate = updateCols
	return b
}

// Build renders the INSERT statement and its positional arguments.
func (b *InsertBuilder) Build() (string, []any) {
	placeholders := make([]string, len(b.cols))
	for i := range b.cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s)",
		b.table, strings.Join(b.cols, ", "), strings.Join(placeholders, ", "))

	if b.conflict != "" {
		fmt.Fprintf(&sb, " ON CONFLICT (%s)", b.conflict)
		if len(b.doUpdate) == 0 {
			sb.WriteString(" DO NOTHING")
		} else {
			sets := make([]string, len(b.doUpdate))
			for i, c := range b.doUpdate {
				sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
			}
			sb.WriteString(" DO UPDATE SET ")
			sb.WriteString(strings.Join(sets, ", "))
		}
	}
	return sb.String(), b.args
}
