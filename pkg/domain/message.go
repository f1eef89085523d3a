package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Message is one generated utterance. Messages are append-only.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	SpeakerRef    string `json:"speaker_ref"`
	SpeakerRoleID string `json:"speaker_role_id"`
	SpeakerName   string `json:"speaker_name"`

	TargetRef    string `json:"target_ref,omitempty"`
	TargetRoleID string `json:"target_role_id,omitempty"`
	TargetName   string `json:"target_name,omitempty"`

	Content string `json:"content"`
	Summary string `json:"summary"`

	Round     int    `json:"round"`
	StepOrder int    `json:"step_order"`
	TaskType  string `json:"task_type"`
	Section   string `json:"section"`
	ReplyTo   string `json:"reply_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

const summaryLimit = 100

// Summarize shortens content for listings: anything longer than 100 runes
// is cut to 97 runes followed by "...".
func Summarize(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= summaryLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:summaryLimit-3]) + "..."
}

var sections = map[string]string{
	"ask_question":    "questioning",
	"answer_question": "answering",
	"review_answer":   "review",
	"question":        "questioning",
	"answer":          "answering",
	"review":          "review",
	"critique":        "review",
	"rebut":           "debate",
	"argue":           "debate",
	"summarize":       "summary",
	"conclude":        "conclusion",
	"open":            "opening",
	"introduce":       "opening",
}

// SectionFor maps a task type onto the transcript section it belongs to.
func SectionFor(taskType string) string {
	if s, ok := sections[strings.ToLower(taskType)]; ok {
		return s
	}
	return "discussion"
}

// ContextEntry is one history item handed to the generator.
type ContextEntry struct {
	Speaker string `json:"speaker"`
	Target  string `json:"target,omitempty"`
	Content string `json:"content"`
	Round   int    `json:"round"`
}

// TopicSpeaker is the speaker label of the synthetic opening entry.
const TopicSpeaker = "topic"
