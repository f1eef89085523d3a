package domain

// Prompt is everything a generator needs to produce one utterance.
type Prompt struct {
	SessionID    string         `json:"session_id"`
	SystemPrompt string         `json:"system_prompt"`
	Speaker      string         `json:"speaker"`
	Target       string         `json:"target,omitempty"`
	TaskType     string         `json:"task_type"`
	Description  string         `json:"description,omitempty"`
	Topic        string         `json:"topic,omitempty"`
	Round        int            `json:"round"`
	Context      []ContextEntry `json:"context"`
}

// ExecutionInfo describes what the controller did during one advance.
type ExecutionInfo struct {
	CurrentPointer  int  `json:"current_pointer"`
	NextPointer     int  `json:"next_pointer"`
	StepOrder       int  `json:"step_order"`
	Round           int  `json:"round"`
	IsFinished      bool `json:"is_finished"`
	Jumped          bool `json:"jumped"`
	LoopIncremented bool `json:"loop_incremented"`
	LoopCount       int  `json:"loop_count"`
	LoopExited      bool `json:"loop_exited"`
	RoutingOverflow bool `json:"routing_overflow,omitempty"`
}

// AdvanceResult is returned by a successful advance.
type AdvanceResult struct {
	Message   *Message      `json:"message"`
	Session   *Session      `json:"session"`
	Execution ExecutionInfo `json:"execution_info"`
}
