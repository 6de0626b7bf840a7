// Package agent defines the closed event vocabulary for agent runs.
//
// The external agent SDK emits an open, versioned event schema; everything
// the rest of the system (and the drawer UI) sees is one of the five
// variants below. Translation from the vendor schema happens in exactly
// one place (service.RunnerService); unrecognized vendor kinds are
// dropped there, never widened into this vocabulary.
package agent

// Type identifies an event variant.
type Type string

const (
	TypePlan       Type = "plan"        // reasoning / progress text
	TypeFileChange Type = "file_change" // one changed path
	TypeMessage    Type = "message"     // user-facing assistant text
	TypeError      Type = "error"       // terminal failure (incl. cancellation)
	TypeDone       Type = "done"        // terminal success
)

// File change statuses carried by TypeFileChange events.
const (
	StatusCreated  = "created"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
	StatusRestored = "restored"
)

// Event is one entry in a run's event stream. Field presence depends on
// Type: plan/message use Content, file_change uses Path+Status, error
// uses Message.
type Event struct {
	Type    Type   `json:"type"`
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Plan returns a progress/reasoning event.
func Plan(content string) Event { return Event{Type: TypePlan, Content: content} }

// FileChange returns an event for one changed path.
func FileChange(path, status string) Event {
	return Event{Type: TypeFileChange, Path: path, Status: status}
}

// Message returns a user-facing assistant text event.
func Message(content string) Event { return Event{Type: TypeMessage, Content: content} }

// Error returns a terminal error event.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }

// Done returns the terminal success event.
func Done() Event { return Event{Type: TypeDone} }

// Terminal reports whether the event ends a run's stream.
func (e Event) Terminal() bool { return e.Type == TypeDone || e.Type == TypeError }
