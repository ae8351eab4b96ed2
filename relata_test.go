package relata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relata/internal/descriptor"
	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/reactive"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "authors",
		Fields: []schema.Field{{Name: "name", Type: schema.TypeText}},
	}))
	require.NoError(t, schemas.Add(&schema.Table{
		Name: "books",
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeText},
			{Name: "year", Type: schema.TypeInt},
		},
	}))

	db, err := Open(filepath.Join(t.TempDir(), "library.db"), schemas,
		relation.Config{"books": {"author_id": "authors"}})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_BadRelationshipConfig(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{Name: "books"}))

	_, err := Open(filepath.Join(t.TempDir(), "x.db"), schemas,
		relation.Config{"books": {"author_id": "authors"}})
	require.Error(t, err)
}

func TestCRUDRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	authorID, err := db.Insert(ctx, "authors", store.Row{"name": "Herbert"})
	require.NoError(t, err)

	bookID, err := db.Insert(ctx, "books", store.Row{
		"title":     "dune",
		"year":      1965,
		"author_id": authorID,
	})
	require.NoError(t, err)

	row, err := db.Get(ctx, "books", bookID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "dune", row["title"])

	affected, err := db.Update(ctx, "books", bookID, store.Row{"title": "messiah"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	n, err := db.Count(ctx, query.Spec{Table: "books"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	affected, err = db.Delete(ctx, "books", bookID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	row, err = db.Get(ctx, "books", bookID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestFind_WithRelationship(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	herbert, err := db.Insert(ctx, "authors", store.Row{"name": "Herbert"})
	require.NoError(t, err)
	simmons, err := db.Insert(ctx, "authors", store.Row{"name": "Simmons"})
	require.NoError(t, err)

	_, err = db.Insert(ctx, "books", store.Row{"title": "dune", "author_id": herbert})
	require.NoError(t, err)
	_, err = db.Insert(ctx, "books", store.Row{"title": "hyperion", "author_id": simmons})
	require.NoError(t, err)

	rows, err := db.Find(ctx, query.Spec{
		Table:      "books",
		Conditions: query.Conditions{"author": herbert},
	})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "dune", rows[0]["title"])
}

func TestToSQL(t *testing.T) {
	db := openTestDB(t)

	sql, params, err := db.ToSQL(query.Spec{
		Table:      "books",
		Conditions: query.Conditions{"title": "dune"},
	})
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "books" WHERE "title" = ?`, sql)
	assert.Equal(t, []any{"dune"}, params)
}

func TestOn_SynchronousDelivery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var events []store.Event
	h := db.On("books", store.ActionInsert, func(ev store.Event) {
		events = append(events, ev)
	})

	id, err := db.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	// Delivery happened on this goroutine, before Insert returned.
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].RowID)

	db.Off(h)
	_, err = db.Insert(ctx, "books", store.Row{"title": "messiah"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDescribe(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	authorID, err := db.Insert(ctx, "authors", store.Row{"name": "Herbert"})
	require.NoError(t, err)
	_, err = db.Insert(ctx, "books", store.Row{"title": "dune", "author_id": authorID})
	require.NoError(t, err)

	ns := db.Namespace()
	books, err := ns.Table("books")
	require.NoError(t, err)
	authors, err := ns.Table("authors")
	require.NoError(t, err)

	fk, err := books.Col("author")
	require.NoError(t, err)
	title, err := books.Col("title")
	require.NoError(t, err)
	name, err := authors.Col("name")
	require.NoError(t, err)

	rows, err := db.Describe(ctx, ns, descriptor.Descriptor{
		Select: map[string]any{
			"title":       title,
			"author_name": name,
		},
		Joins: [][2]descriptor.ColumnRef{{fk, authors.PK()}},
	})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "dune", rows[0]["title"])
	assert.Equal(t, "Herbert", rows[0]["author_name"])
}

func TestWatch_EndToEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	deliveries := make(chan []store.Row, 16)
	sub, err := db.Watch(query.Spec{Table: "books"}, reactive.WatchOptions{
		Interval:  10 * time.Millisecond,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case rows := <-deliveries:
		assert.Empty(t, rows)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the initial delivery")
	}

	_, err = db.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	select {
	case rows := <-deliveries:
		require.Len(t, rows, 1)
		assert.Equal(t, "dune", rows[0]["title"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the mutation delivery")
	}
}

func TestTail_EndToEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	entries := make(chan store.ChangeLogEntry, 16)
	sub, err := db.Tail("books", reactive.TailOptions{
		Interval: 10 * time.Millisecond,
	}, func(e store.ChangeLogEntry) { entries <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := db.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	select {
	case e := <-entries:
		assert.Equal(t, store.ActionInsert, e.Action)
		assert.Equal(t, id, e.RowID)
		assert.Equal(t, "books", e.Table)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the change-log entry")
	}
}
