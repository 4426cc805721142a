package editor

// EventType names a session event.
type EventType string

const (
	// EventLoaded carries the pen.Pen that was opened.
	EventLoaded EventType = "loaded"
	// EventCodeChanged carries pen.Sources after every edit.
	EventCodeChanged EventType = "code"
	// EventCompileErrors carries the []pen.CompileError of the latest compile
	// whenever the set changes. An empty list clears the errors.
	EventCompileErrors EventType = "errors"
	// EventPreview carries a PreviewPayload.
	EventPreview EventType = "preview"
	// EventLayout carries a layout.Snapshot.
	EventLayout EventType = "layout"
	// EventSaveStatus carries an autosave.Status.
	EventSaveStatus EventType = "status"
	// EventSaved carries the pen.Pen returned by a successful save.
	EventSaved EventType = "saved"
	// EventError carries an ErrorPayload for a rejected command.
	EventError EventType = "error"
)

// Event is one message from the session to its client.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// PreviewPayload is a ready-to-render preview document.
type PreviewPayload struct {
	Document string `json:"document"`
	Sandbox  string `json:"sandbox"`
	Seq      uint64 `json:"seq"`
	// Version is the preview registry version, 0 when not registered.
	Version uint64 `json:"version,omitempty"`
}

// ErrorPayload reports a failed command.
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// Sink receives session events. Send may be called from several goroutines
// and must not call back into the Session.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Send(e Event) { f(e) }
