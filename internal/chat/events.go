package chat

import "encoding/json"

// Event is the closed set of events emitted on a chat-turn stream. The
// unexported marker keeps the union sealed so EncodeEvent stays exhaustive.
type Event interface {
	EventType() string
	chatEvent()
}

// TextEvent is an incremental piece of assistant text.
type TextEvent struct {
	Content string `json:"content"`
}

// ToolCallEvent announces a tool invocation before it runs, so clients can
// show activity while the tool executes.
type ToolCallEvent struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
}

// ToolResultEvent reports a tool's outcome after it returns.
type ToolResultEvent struct {
	Tool    string `json:"tool"`
	ID      string `json:"id"`
	Result  any    `json:"result"`
	Success bool   `json:"success"`
}

// DoneEvent terminates a turn with usage accounting.
type DoneEvent struct {
	Usage     Usage  `json:"usage"`
	SessionID string `json:"sessionId"`
}

// ErrorEvent terminates a turn after an upstream model failure.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (TextEvent) EventType() string       { return "text" }
func (ToolCallEvent) EventType() string   { return "tool_call" }
func (ToolResultEvent) EventType() string { return "tool_result" }
func (DoneEvent) EventType() string       { return "done" }
func (ErrorEvent) EventType() string      { return "error" }

func (TextEvent) chatEvent()       {}
func (ToolCallEvent) chatEvent()   {}
func (ToolResultEvent) chatEvent() {}
func (DoneEvent) chatEvent()       {}
func (ErrorEvent) chatEvent()      {}

// Terminal reports whether no further events may follow ev on its stream.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// EncodeEvent serializes an event with its type discriminator inlined.
func EncodeEvent(ev Event) ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
	}
	switch e := ev.(type) {
	case TextEvent:
		return json.Marshal(struct {
			tagged
			TextEvent
		}{tagged{e.EventType()}, e})
	case ToolCallEvent:
		return json.Marshal(struct {
			tagged
			ToolCallEvent
		}{tagged{e.EventType()}, e})
	case ToolResultEvent:
		return json.Marshal(struct {
			tagged
			ToolResultEvent
		}{tagged{e.EventType()}, e})
	case DoneEvent:
		return json.Marshal(struct {
			tagged
			DoneEvent
		}{tagged{e.EventType()}, e})
	case ErrorEvent:
		return json.Marshal(struct {
			tagged
			ErrorEvent
		}{tagged{e.EventType()}, e})
	default:
		return json.Marshal(tagged{ev.EventType()})
	}
}
