// Package task defines the task and control-message types shared by the
// registry client, the store client, and the worker engine.
package task

import "fmt"

// Status is the task lifecycle state as observed by this worker. The worker
// only ever writes PROCESSING and the terminal states; a row never returns
// to PENDING.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String projects the status to its wire/store form.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts the wire/store form back into a Status.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "PENDING":
		return StatusPending, true
	case "PROCESSING":
		return StatusProcessing, true
	case "COMPLETED":
		return StatusCompleted, true
	case "FAILED":
		return StatusFailed, true
	case "CANCELLED":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// Task is the in-flight view of one translation task as dequeued from the
// registry. Unknown JSON fields on the wire are ignored.
type Task struct {
	ID              string   `json:"taskId"`
	SourceLanguage  string   `json:"sourceLanguage"`
	TargetLanguages []string `json:"targetLanguages"`

	// At least one of the following is present.
	TextContent   string `json:"textContent,omitempty"`
	AudioFilePath string `json:"audioFilePath,omitempty"`
	OriginalText  string `json:"originalText,omitempty"`
}

// Validate checks the structural invariants of a dequeued task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task: missing taskId")
	}
	if t.SourceLanguage == "" {
		return fmt.Errorf("task %s: missing sourceLanguage", t.ID)
	}
	if t.TextContent == "" && t.AudioFilePath == "" && t.OriginalText == "" {
		return fmt.Errorf("task %s: no text content, audio path, or original text", t.ID)
	}
	return nil
}

// ControlAction enumerates the out-of-band commands a node accepts on its
// control queue.
type ControlAction string

// ControlActionCancelTask cancels one in-flight task by id.
const ControlActionCancelTask ControlAction = "CANCEL_TASK"

// ControlMessage is one record from the control queue. Unknown actions are
// logged and dropped by the consumer.
type ControlMessage struct {
	Action ControlAction `json:"action"`
	TaskID string        `json:"taskId"`
}
