package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer

	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestValidateCommand_JSON(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)

	out, _, err := runCommand(t, "validate", dir, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summary SchemaSummary
	require.NoError(t, json.Unmarshal(data, &summary))

	require.Len(t, summary.Tables, 2)
	assert.Equal(t, "authors", summary.Tables[0].Name)
	assert.Equal(t, "books", summary.Tables[1].Name)
	require.NotEmpty(t, summary.Relationships)
}

func TestValidateCommand_Text(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)

	out, _, err := runCommand(t, "validate", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "2 table(s)")
	assert.Contains(t, out, "books")
	assert.Contains(t, out, "belongs-to")
}

func TestValidateCommand_MissingDir(t *testing.T) {
	out, _, err := runCommand(t, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestCompileCommand_JSON(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)
	queryPath := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(queryPath, []byte(`
table: books
columns: [title, year]
where:
  year:
    $gt: 1960
orderBy:
  - column: year
    desc: true
limit: 10
`), 0644))

	out, _, err := runCommand(t, "compile", dir, queryPath, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var compiled CompiledQuery
	require.NoError(t, json.Unmarshal(data, &compiled))

	assert.Equal(t, `SELECT "title", "year" FROM "books" WHERE "year" > ? ORDER BY "year" DESC LIMIT ?`, compiled.SQL)
	assert.Equal(t, []any{float64(1960), float64(10)}, compiled.Params)
}

func TestCompileCommand_Text(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)
	queryPath := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(queryPath, []byte("table: books\n"), 0644))

	out, _, err := runCommand(t, "compile", dir, queryPath)
	require.NoError(t, err)

	assert.Contains(t, out, `SELECT * FROM "books"`)
	assert.Contains(t, out, "params: []")
}

func TestCompileCommand_BadQuery(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)
	queryPath := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(queryPath, []byte(`
table: books
where:
  publisher: "x"
`), 0644))

	out, _, err := runCommand(t, "compile", dir, queryPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeCompile)
}

func TestCompileCommand_MissingQueryFile(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)

	_, _, err := runCommand(t, "compile", dir, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	dir := writeSchemaDir(t, librarySchema)

	_, _, err := runCommand(t, "validate", dir, "--format", "xml")
	require.Error(t, err)
}
