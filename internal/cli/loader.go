package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
)

// Load error codes.
const (
	ErrCodeNotFound    = "E_NOT_FOUND"
	ErrCodeNoFiles     = "E_NO_FILES"
	ErrCodeScanError   = "E_SCAN"
	ErrCodeLoadFailed  = "E_LOAD"
	ErrCodeBuildFailed = "E_BUILD"
	ErrCodeBadSchema   = "E_SCHEMA"
	ErrCodeBadQuery    = "E_QUERY"
	ErrCodeCompile     = "E_COMPILE"
	ErrCodeStore       = "E_STORE"
	ErrCodeGeneric     = "E_GENERIC"
)

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult contains the registries built from a schema directory.
type LoadResult struct {
	Schemas   *schema.Registry
	Relations *relation.Registry
	FileCount int
}

// LoadSchemas loads CUE schema declarations from a directory and builds the
// schema and relationship registries.
//
// Files declare:
//
//	tables: {
//	  authors: {fields: {name: "text"}}
//	  books: {
//	    primaryKey: "id"
//	    fields: {
//	      title:  "text"
//	      author: {ref: "authors"}
//	    }
//	  }
//	}
//	relationships: {books: {author_id: "authors"}}
//
// Relationship descriptors come from both the explicit relationships block
// and the ref fields; duplicate declarations are idempotent.
func LoadSchemas(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	schemas, err := extractTables(value)
	if err != nil {
		return nil, err
	}

	relations := relation.NewRegistry(schemas)
	if err := relations.AddFromSchemas(); err != nil {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: err.Error()}
	}

	relsVal := value.LookupPath(cue.ParsePath("relationships"))
	if relsVal.Exists() {
		var cfg relation.Config
		if err := relsVal.Decode(&cfg); err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("decoding relationships: %v", err)}
		}
		if err := relations.AddConfig(cfg); err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: err.Error()}
		}
	}

	return &LoadResult{Schemas: schemas, Relations: relations, FileCount: len(cueFiles)}, nil
}

// extractTables decodes the tables block into a schema registry.
func extractTables(value cue.Value) (*schema.Registry, error) {
	tablesVal := value.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: "no tables block found in schemas"}
	}

	registry := schema.NewRegistry()
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("iterating tables: %v", err)}
	}
	for iter.Next() {
		table, err := extractTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if err := registry.Add(table); err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: err.Error()}
		}
	}
	return registry, nil
}

func extractTable(name string, v cue.Value) (*schema.Table, error) {
	table := &schema.Table{Name: name}

	pkVal := v.LookupPath(cue.ParsePath("primaryKey"))
	if pkVal.Exists() {
		pk, err := pkVal.String()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("table %q: primaryKey must be a string: %v", name, err)}
		}
		table.PrimaryKey = pk
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("table %q has no fields block", name)}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("table %q: iterating fields: %v", name, err)}
	}
	for iter.Next() {
		field, err := extractField(name, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		table.Fields = append(table.Fields, field)
	}
	return table, nil
}

// extractField accepts either a bare type string ("int", "text", ...) or a
// reference struct {ref: "target", many?: true}.
func extractField(table, name string, v cue.Value) (schema.Field, error) {
	if v.Kind() == cue.StringKind {
		typ, err := v.String()
		if err != nil {
			return schema.Field{}, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("field %q.%q: %v", table, name, err)}
		}
		return schema.Field{Name: name, Type: schema.FieldType(typ)}, nil
	}

	refVal := v.LookupPath(cue.ParsePath("ref"))
	if !refVal.Exists() {
		return schema.Field{}, &LoadError{Code: ErrCodeBadSchema,
			Message: fmt.Sprintf("field %q.%q must be a type string or {ref: table}", table, name)}
	}
	ref, err := refVal.String()
	if err != nil {
		return schema.Field{}, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("field %q.%q: ref must be a string: %v", table, name, err)}
	}

	field := schema.Field{Name: name, Ref: ref}
	manyVal := v.LookupPath(cue.ParsePath("many"))
	if manyVal.Exists() {
		many, err := manyVal.Bool()
		if err != nil {
			return schema.Field{}, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("field %q.%q: many must be a bool: %v", table, name, err)}
		}
		field.Many = many
	}
	return field, nil
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
