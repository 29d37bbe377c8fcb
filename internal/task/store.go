package task

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/metalagman/jeeves/internal/atomicfile"
	"github.com/xeipuuv/gojsonschema"
)

// FileName is the task file name inside the state directory.
const FileName = "tasks.json"

//go:embed schema.json
var schemaJSON string

// Load reads and validates a task file.
func Load(path string) (TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskList{}, fmt.Errorf("read tasks: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes task file content.
func Parse(data []byte) (TaskList, error) {
	if err := validate(data); err != nil {
		return TaskList{}, err
	}
	var list TaskList
	if err := json.Unmarshal(data, &list); err != nil {
		return TaskList{}, fmt.Errorf("decode tasks: %w", err)
	}
	if list.SchemaVersion != 0 && list.SchemaVersion != SchemaVersion {
		return TaskList{}, fmt.Errorf("%w: %d", ErrSchemaVersion, list.SchemaVersion)
	}
	list.normalize()
	return list, nil
}

// Save atomically writes the whole task list.
func Save(path string, list TaskList) error {
	list.normalize()
	if list.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, list.SchemaVersion)
	}
	if err := atomicfile.WriteJSON(path, list); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

// Update loads the task list, applies fn and saves the result.
// Callers serialize updates per file.
func Update(path string, fn func(*TaskList) error) (TaskList, error) {
	list, err := Load(path)
	if err != nil {
		return TaskList{}, err
	}
	if err := fn(&list); err != nil {
		return TaskList{}, err
	}
	if err := Save(path, list); err != nil {
		return TaskList{}, err
	}
	return list, nil
}

func validate(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("validate tasks schema: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("tasks schema validation failed: %s", strings.Join(errs, "; "))
}
