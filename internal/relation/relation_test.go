package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/schema"
)

func bookSchemas(t *testing.T) *schema.Registry {
	t.Helper()
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "authors",
		Fields: []schema.Field{{Name: "name", Type: schema.TypeText}},
	}))
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "books",
		Fields: []schema.Field{{Name: "title", Type: schema.TypeText}},
	}))
	return schemas
}

func TestAddConfig(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	require.NoError(t, r.AddConfig(Config{
		"books": {"author_id": "authors"},
	}))

	books := r.ForTable("books")
	require.Len(t, books, 1)
	assert.Equal(t, Descriptor{
		Kind:             BelongsTo,
		From:             "books",
		To:               "authors",
		NavigationField:  "author",
		ForeignKeyColumn: "author_id",
	}, books[0])

	// The inverse is synthesized automatically.
	authors := r.ForTable("authors")
	require.Len(t, authors, 1)
	assert.Equal(t, Descriptor{
		Kind:             OneToMany,
		From:             "authors",
		To:               "books",
		NavigationField:  "books",
		ForeignKeyColumn: "author_id",
	}, authors[0])
}

func TestAddConfig_Idempotent(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	cfg := Config{"books": {"author_id": "authors"}}

	require.NoError(t, r.AddConfig(cfg))
	require.NoError(t, r.AddConfig(cfg))

	assert.Len(t, r.ForTable("books"), 1, "re-registration must not duplicate")
	assert.Len(t, r.ForTable("authors"), 1)
}

func TestAddConfig_UnknownChild(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	err := r.AddConfig(Config{"reviews": {"book_id": "books"}})
	require.Error(t, err)
	assert.True(t, qerr.IsConfigError(err))
}

func TestAddConfig_UnknownParent(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	err := r.AddConfig(Config{"books": {"publisher_id": "publishers"}})
	require.Error(t, err)
	assert.True(t, qerr.IsConfigError(err))
}

func TestAddFromSchemas_ScalarReference(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{Name: "authors"}))
	require.NoError(t, schemas.Add(&schema.Table{
		Name: "books",
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeText},
			{Name: "author", Ref: "authors"},
		},
	}))

	r := NewRegistry(schemas)
	require.NoError(t, r.AddFromSchemas())

	books := r.ForTable("books")
	require.Len(t, books, 1)
	assert.Equal(t, BelongsTo, books[0].Kind)
	assert.Equal(t, "author", books[0].NavigationField)
	assert.Equal(t, "author_id", books[0].ForeignKeyColumn, "FK column synthesized from field name plus suffix")

	authors := r.ForTable("authors")
	require.Len(t, authors, 1)
	assert.Equal(t, OneToMany, authors[0].Kind)
	assert.Equal(t, "books", authors[0].NavigationField)
}

func TestAddFromSchemas_ManyReference(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "authors",
		Fields: []schema.Field{{Name: "books", Ref: "books", Many: true}},
	}))
	require.NoError(t, schemas.Add(&schema.Table{Name: "books"}))

	r := NewRegistry(schemas)
	require.NoError(t, r.AddFromSchemas())

	authors := r.ForTable("authors")
	require.Len(t, authors, 1)
	assert.Equal(t, OneToMany, authors[0].Kind)
	assert.Equal(t, "books", authors[0].NavigationField)
	assert.Equal(t, "authors_id", authors[0].ForeignKeyColumn)

	// The many declaration synthesizes the belongs-to on the child side.
	books := r.ForTable("books")
	require.Len(t, books, 1)
	assert.Equal(t, BelongsTo, books[0].Kind)
	assert.Equal(t, "authors", books[0].NavigationField)
}

func TestAddFromSchemas_UnknownTarget(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "books",
		Fields: []schema.Field{{Name: "author", Ref: "authors"}},
	}))

	r := NewRegistry(schemas)
	err := r.AddFromSchemas()
	require.Error(t, err)
	assert.True(t, qerr.IsConfigError(err))
}

func TestConfigAndSchemaAgree(t *testing.T) {
	// The same relationship declared through both paths registers once.
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{Name: "authors"}))
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "books",
		Fields: []schema.Field{{Name: "author", Ref: "authors"}},
	}))

	r := NewRegistry(schemas)
	require.NoError(t, r.AddFromSchemas())
	require.NoError(t, r.AddConfig(Config{"books": {"author_id": "authors"}}))

	assert.Len(t, r.ForTable("books"), 1)
	assert.Len(t, r.ForTable("authors"), 1)
}

func TestWithFKSuffix(t *testing.T) {
	r := NewRegistry(bookSchemas(t), WithFKSuffix("_ref"))
	require.NoError(t, r.AddConfig(Config{"books": {"author_ref": "authors"}}))

	d, ok := r.BelongsToFor("books", "author")
	require.True(t, ok)
	assert.Equal(t, "author_ref", d.ForeignKeyColumn)
}

func TestBelongsToFor(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	require.NoError(t, r.AddConfig(Config{"books": {"author_id": "authors"}}))

	d, ok := r.BelongsToFor("books", "author")
	require.True(t, ok)
	assert.Equal(t, "authors", d.To)

	_, ok = r.BelongsToFor("books", "publisher")
	assert.False(t, ok)

	// One-to-many navigation fields are not belongs-to.
	_, ok = r.BelongsToFor("authors", "books")
	assert.False(t, ok)
}

func TestIsNavigationField(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	require.NoError(t, r.AddConfig(Config{"books": {"author_id": "authors"}}))

	assert.True(t, r.IsNavigationField("books", "author"))
	assert.True(t, r.IsNavigationField("authors", "books"))
	assert.False(t, r.IsNavigationField("books", "title"))
}

func TestJoinColumns(t *testing.T) {
	r := NewRegistry(bookSchemas(t))
	require.NoError(t, r.AddConfig(Config{"books": {"author_id": "authors"}}))

	fk, pk, swapped, ok := r.JoinColumns("books", "authors")
	require.True(t, ok)
	assert.Equal(t, "author_id", fk)
	assert.Equal(t, "id", pk)
	assert.False(t, swapped)

	fk, pk, swapped, ok = r.JoinColumns("authors", "books")
	require.True(t, ok)
	assert.Equal(t, "author_id", fk)
	assert.Equal(t, "id", pk)
	assert.True(t, swapped, "FK lives on the other side of the pair")
}

func TestJoinColumns_NoRelationship(t *testing.T) {
	r := NewRegistry(bookSchemas(t))

	_, _, _, ok := r.JoinColumns("books", "authors")
	assert.False(t, ok)
}
