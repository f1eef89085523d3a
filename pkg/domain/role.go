package domain

// Role is a participant persona. Roles referenced by a session are copied
// into the session at creation, so later edits never reach running sessions.
type Role struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Prompt      string `json:"prompt" yaml:"prompt" mapstructure:"prompt"`
}
