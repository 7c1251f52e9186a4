package httpapi

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://ftrack.invalid/schemas/"

// Request body schemas, by file name.
const (
	schemaUpsert    = "upsert.json"
	schemaName      = "name.json"
	schemaRename    = "rename.json"
	schemaTask      = "task.json"
	schemaFail      = "fail.json"
	schemaProvision = "provision.json"
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("reading schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", e.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", e.Name(), err)
		}
	}

	out := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		sch, err := c.Compile(schemaBase + e.Name())
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", e.Name(), err)
		}
		out[e.Name()] = sch
	}
	return out, nil
}

// missingProperty reports whether a validation failure is a required
// property that is absent or empty.
func missingProperty(err error) bool {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return hasMissing(ve)
}

func hasMissing(ve *jsonschema.ValidationError) bool {
	switch ve.ErrorKind.(type) {
	case *kind.Required, *kind.MinLength:
		return true
	}
	for _, cause := range ve.Causes {
		if hasMissing(cause) {
			return true
		}
	}
	return false
}
