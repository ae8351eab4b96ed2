package store

import (
	"context"
	"fmt"

	"github.com/roach88/relata/internal/query"
)

// Insert writes one row and returns its new primary key. On success the
// insert event is emitted synchronously before returning.
func (s *Store) Insert(ctx context.Context, table string, row Row) (int64, error) {
	sqlText, params, err := s.compiler.CompileInsert(table, row)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", table, err)
	}

	res, err := s.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", table, err)
	}

	inserted := make(Row, len(row)+1)
	for k, v := range row {
		inserted[k] = v
	}
	inserted[s.pk(table)] = id

	s.emit(Event{Table: table, Action: ActionInsert, RowID: id, Row: inserted})
	return id, nil
}

// Update rewrites the given columns of one row by primary key. Returns the
// number of affected rows; the update event is emitted only when a row
// actually changed.
func (s *Store) Update(ctx context.Context, table string, id any, row Row) (int64, error) {
	sqlText, params, err := s.compiler.CompileUpdate(table, id, row)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", table, err)
	}

	res, err := s.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", table, err)
	}

	if affected > 0 {
		rowID, _ := asInt64(id)
		updated := make(Row, len(row)+1)
		for k, v := range row {
			updated[k] = v
		}
		updated[s.pk(table)] = id
		s.emit(Event{Table: table, Action: ActionUpdate, RowID: rowID, Row: updated})
	}
	return affected, nil
}

// Delete removes one row by primary key. Returns the number of affected
// rows; the delete event is emitted only when a row was removed.
func (s *Store) Delete(ctx context.Context, table string, id any) (int64, error) {
	sqlText, params, err := s.compiler.CompileDelete(table, id)
	if err != nil {
		return 0, fmt.Errorf("delete from %q: %w", table, err)
	}

	res, err := s.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return 0, fmt.Errorf("delete from %q: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %q: %w", table, err)
	}

	if affected > 0 {
		rowID, _ := asInt64(id)
		s.emit(Event{Table: table, Action: ActionDelete, RowID: rowID})
	}
	return affected, nil
}

// Find compiles and executes a query spec, returning the matching rows.
func (s *Store) Find(ctx context.Context, spec query.Spec) ([]Row, error) {
	sqlText, params, err := s.compiler.CompileSelect(spec)
	if err != nil {
		return nil, fmt.Errorf("find in %q: %w", spec.Table, err)
	}
	return s.Query(ctx, sqlText, params...)
}

// Get returns one row by primary key, or nil when absent.
func (s *Store) Get(ctx context.Context, table string, id any) (Row, error) {
	one := 1
	rows, err := s.Find(ctx, query.Spec{
		Table:      table,
		Conditions: query.Conditions{s.pk(table): id},
		Limit:      &one,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of rows matching the spec's WHERE scope.
func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	sqlText, params, err := s.compiler.CompileCount(spec)
	if err != nil {
		return 0, fmt.Errorf("count in %q: %w", spec.Table, err)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlText, params...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count in %q: %w", spec.Table, err)
	}
	return count, nil
}

func (s *Store) pk(table string) string {
	if t, ok := s.schemas.Lookup(table); ok {
		return t.PK()
	}
	return "id"
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
