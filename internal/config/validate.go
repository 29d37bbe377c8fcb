package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// SchemaError lists every schema violation of a config file, sorted by field.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// ValidateSettings checks raw config file settings against the embedded
// JSON schema. Violations are returned as *SchemaError.
func ValidateSettings(settings map[string]any) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.Field()+": "+re.Description())
	}
	sort.Strings(problems)
	return &SchemaError{Problems: problems}
}
