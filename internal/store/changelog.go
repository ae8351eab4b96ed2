package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/sqlast"
)

// ChangeLogEntry is one persisted mutation record. Entries are append-only
// and ordered by id, which doubles as the monotonic change sequence.
type ChangeLogEntry struct {
	ID        int64
	Table     string
	RowID     int64
	Action    Action
	Timestamp time.Time
}

// changeLogTimeLayout matches the strftime format the triggers write.
const changeLogTimeLayout = "2006-01-02T15:04:05.999Z"

// ChangesSince reads change-log entries with id > afterID, oldest first.
// An empty table selects entries for all tables; limit <= 0 means no limit.
func (s *Store) ChangesSince(ctx context.Context, table string, afterID int64, limit int) ([]ChangeLogEntry, error) {
	sqlText := fmt.Sprintf("SELECT id, table_name, row_id, action, ts FROM %s WHERE id > ?",
		sqlast.QuoteIdent(changeLogTable))
	params := []any{afterID}

	if table != "" {
		sqlText += " AND table_name = ?"
		params = append(params, table)
	}
	sqlText += " ORDER BY id ASC"
	if limit > 0 {
		sqlText += " LIMIT ?"
		params = append(params, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	defer rows.Close()

	var entries []ChangeLogEntry
	for rows.Next() {
		var e ChangeLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Table, &e.RowID, &e.Action, &ts); err != nil {
			return nil, fmt.Errorf("scan change log: %w", err)
		}
		parsed, err := time.Parse(changeLogTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse change log timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change log: %w", err)
	}
	return entries, nil
}

// LastChangeID returns the highest change-log id for a table (0 when the
// table has never been written). An empty table spans all tables.
func (s *Store) LastChangeID(ctx context.Context, table string) (int64, error) {
	sqlText := fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", sqlast.QuoteIdent(changeLogTable))
	var params []any
	if table != "" {
		sqlText += " WHERE table_name = ?"
		params = append(params, table)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, sqlText, params...).Scan(&id); err != nil {
		return 0, fmt.Errorf("read change sequence: %w", err)
	}
	return id, nil
}

// Fingerprint is the cheap summary polling observers compare between ticks
// for a specific compiled query scope. MaxID is nil for an empty result
// set; ChangeSeq is nil unless change-sequence tracking is enabled.
type Fingerprint struct {
	Count     int64
	MaxID     *int64
	ChangeSeq *int64
}

// Equal compares two fingerprints component-wise.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Count == other.Count &&
		eqInt64Ptr(f.MaxID, other.MaxID) &&
		eqInt64Ptr(f.ChangeSeq, other.ChangeSeq)
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// QueryFingerprint computes the fingerprint for a spec's WHERE scope: row
// count plus max primary key via one aggregate query, optionally folding in
// the table's change sequence. The sequence component is what makes
// in-place UPDATEs (no count or max-id movement) observable.
func (s *Store) QueryFingerprint(ctx context.Context, spec query.Spec, trackSeq bool) (Fingerprint, error) {
	sqlText, params, err := s.compiler.CompileFingerprint(spec)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %q: %w", spec.Table, err)
	}

	var fp Fingerprint
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, sqlText, params...).Scan(&fp.Count, &maxID); err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %q: %w", spec.Table, err)
	}
	if maxID.Valid {
		fp.MaxID = &maxID.Int64
	}

	if trackSeq {
		seq, err := s.LastChangeID(ctx, spec.Table)
		if err != nil {
			return Fingerprint{}, err
		}
		fp.ChangeSeq = &seq
	}
	return fp, nil
}
