package message

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[Kind]*gojsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[Kind]*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		files := map[Kind]string{
			KindStatus:       "schemas/status.json",
			KindAlert:        "schemas/alert.json",
			KindHealth:       "schemas/health.json",
			KindUnclassified: "schemas/object.json",
		}
		schemas = make(map[Kind]*gojsonschema.Schema, len(files))
		for kind, name := range files {
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				schemasErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			schemas[kind] = s
		}
	})
	return schemas, schemasErr
}

// validate checks data against the schema for kind and returns a
// one-line description of every violation.
func validate(kind Kind, data []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}

	result, err := all[kind].Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(violations, "; "))
}
