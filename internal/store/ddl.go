package store

import (
	"fmt"
	"strings"

	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/sqlast"
)

// changeLogTable is the append-only mutation log. Its id column is the
// monotonic change sequence read by fingerprint and watermark observers.
const changeLogTable = "relata_change_log"

// ensureTables bootstraps DDL for every declared table, the change log, and
// the per-table triggers that populate it. All statements are idempotent
// (IF NOT EXISTS), so reopening an existing database is safe. Real schema
// migration bookkeeping is out of scope; this is the minimum substrate the
// change log requires.
func (s *Store) ensureTables() error {
	for _, t := range s.schemas.Tables() {
		if _, err := s.db.Exec(createTableSQL(t, s.relations)); err != nil {
			return fmt.Errorf("create table %q: %w", t.Name, err)
		}
	}

	changeLogDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	row_id INTEGER NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('INSERT', 'UPDATE', 'DELETE')),
	ts TEXT NOT NULL
)`, sqlast.QuoteIdent(changeLogTable))
	if _, err := s.db.Exec(changeLogDDL); err != nil {
		return fmt.Errorf("create change log: %w", err)
	}

	indexDDL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_change_log_table_id ON %s (table_name, id)",
		sqlast.QuoteIdent(changeLogTable))
	if _, err := s.db.Exec(indexDDL); err != nil {
		return fmt.Errorf("index change log: %w", err)
	}

	for _, t := range s.schemas.Tables() {
		for _, ddl := range triggerSQL(t) {
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("create triggers for %q: %w", t.Name, err)
			}
		}
	}

	return nil
}

// createTableSQL renders CREATE TABLE for a declared schema. Relationship
// fields materialize as their FK column on the belongs-to side; one-to-many
// fields add nothing here (their FK lives on the child table).
func createTableSQL(t *schema.Table, relations *relation.Registry) string {
	pk := t.PK()
	cols := []string{sqlast.QuoteIdent(pk) + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	declared := map[string]bool{pk: true}

	for _, f := range t.Fields {
		if f.IsRelationship() || f.Name == pk {
			continue
		}
		cols = append(cols, sqlast.QuoteIdent(f.Name)+" "+columnType(f.Type))
		declared[f.Name] = true
	}

	for _, d := range relations.ForTable(t.Name) {
		if d.Kind != relation.BelongsTo || declared[d.ForeignKeyColumn] {
			continue
		}
		cols = append(cols, fmt.Sprintf("%s INTEGER REFERENCES %s",
			sqlast.QuoteIdent(d.ForeignKeyColumn), sqlast.QuoteIdent(d.To)))
		declared[d.ForeignKeyColumn] = true
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		sqlast.QuoteIdent(t.Name), strings.Join(cols, ",\n\t"))
}

func columnType(ft schema.FieldType) string {
	switch ft {
	case schema.TypeInt, schema.TypeBool:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeBlob:
		return "BLOB"
	default:
		// text, time and anything unrecognized store as TEXT; time values
		// arrive pre-serialized as RFC 3339 by literal normalization.
		return "TEXT"
	}
}

// triggerSQL renders the three AFTER triggers that append to the change
// log. Table names come from the declared schema (trusted identifiers);
// embedded single quotes are doubled anyway.
func triggerSQL(t *schema.Table) []string {
	quotedName := "'" + strings.ReplaceAll(t.Name, "'", "''") + "'"
	pk := sqlast.QuoteIdent(t.PK())
	ts := "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')"

	body := func(action, ref string) string {
		return fmt.Sprintf("INSERT INTO %s (table_name, row_id, action, ts) VALUES (%s, %s.%s, '%s', %s);",
			sqlast.QuoteIdent(changeLogTable), quotedName, ref, pk, action, ts)
	}

	trigger := func(suffix, timing, action, ref string) string {
		name := sqlast.QuoteIdent(fmt.Sprintf("relata_%s_%s", t.Name, suffix))
		return fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s %s ON %s BEGIN %s END",
			name, timing, sqlast.QuoteIdent(t.Name), body(action, ref))
	}

	return []string{
		trigger("ai", "AFTER INSERT", "INSERT", "NEW"),
		trigger("au", "AFTER UPDATE", "UPDATE", "NEW"),
		trigger("ad", "AFTER DELETE", "DELETE", "OLD"),
	}
}
