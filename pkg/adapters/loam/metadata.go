package loam

// Document kinds understood by the catalog.
const (
	KindRole     = "role"
	KindTemplate = "template"
)

// DocumentMetadata is the front matter of a library document.
// For roles, the document body is the prompt unless Prompt is set.
// For templates, the body is the description unless Description is set.
type DocumentMetadata struct {
	Kind        string `json:"kind" mapstructure:"kind"`
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`

	// Role
	Prompt string `json:"prompt" mapstructure:"prompt"`

	// Template
	Topic     string `json:"topic" mapstructure:"topic"`
	MaxRounds int    `json:"max_rounds" mapstructure:"max_rounds"`
	Steps     []any  `json:"steps" mapstructure:"steps"`
}
