package task

import (
	"encoding/json"

	"muse/internal/generator"
)

// Event is the closed set of events emitted on a per-task stream. The
// unexported marker keeps the union sealed so EncodeEvent stays exhaustive.
type Event interface {
	EventType() string
	taskEvent()
}

// InitEvent opens a task stream with a snapshot of the record.
type InitEvent struct {
	Task Record `json:"task"`
}

// ProgressEvent reports a non-decreasing progress value while processing.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// CompleteEvent carries the generator result. Terminal.
type CompleteEvent struct {
	Result *generator.Envelope `json:"result"`
}

// ErrorEvent carries the failure reason. Terminal.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (InitEvent) EventType() string     { return "init" }
func (ProgressEvent) EventType() string { return "progress" }
func (CompleteEvent) EventType() string { return "complete" }
func (ErrorEvent) EventType() string    { return "error" }

func (InitEvent) taskEvent()     {}
func (ProgressEvent) taskEvent() {}
func (CompleteEvent) taskEvent() {}
func (ErrorEvent) taskEvent()    {}

// EncodeEvent serializes an event with its type discriminator inlined.
func EncodeEvent(ev Event) ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
	}
	switch e := ev.(type) {
	case InitEvent:
		return json.Marshal(struct {
			tagged
			InitEvent
		}{tagged{e.EventType()}, e})
	case ProgressEvent:
		return json.Marshal(struct {
			tagged
			ProgressEvent
		}{tagged{e.EventType()}, e})
	case CompleteEvent:
		return json.Marshal(struct {
			tagged
			CompleteEvent
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
