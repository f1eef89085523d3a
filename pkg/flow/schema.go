package flow

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema document for template files
// from the domain.Template struct.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true

	s := r.Reflect(&domain.Template{})
	s.ID = "https://github.com/aretw0/parley/schemas/template-v1.json"
	s.Title = "Parley Flow Template v1"
	s.Description = "Schema for parley flow template YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
