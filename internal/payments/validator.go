package payments

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks provider payloads against the JSON schemas shipped in schemas/.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every *.json file in fsys; the schema name is the file
// name without extension (e.g. "paypal_capture").
func NewValidator(fsys fs.FS) (*Validator, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		compiled, err := jsonschema.CompileString("https://marketplace.inaiurai.dev/schemas/"+name, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
		schemas[name] = compiled
	}
	return &Validator{schemas: schemas}, nil
}

// DefaultValidator compiles the embedded provider schemas.
func DefaultValidator() (*Validator, error) {
	sub, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	return NewValidator(sub)
}

// Validate returns an ErrInvalidPayload-wrapped error when doc does not match the named schema.
func (v *Validator) Validate(name string, doc json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
