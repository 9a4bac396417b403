package dispatcher

import (
	"encoding/json"

	"muse/internal/generator"
	"muse/internal/intent"
)

// Event is the closed set of events emitted on a generation stream. The
// unexported marker keeps the union sealed so EncodeEvent stays exhaustive.
type Event interface {
	EventType() string
	generationEvent()
}

// IntentEvent reports the classification that drove dispatch. Always first.
type IntentEvent struct {
	Intent     intent.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
}

// ProgressEvent reports stage progress on the requesting stream.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// CompleteEvent carries an inline result from the synchronous path. Terminal.
type CompleteEvent struct {
	Media *generator.Envelope `json:"media"`
}

// TaskCreatedEvent hands the client a task id to stream progress from.
type TaskCreatedEvent struct {
	TaskID string `json:"taskId"`
}

// PollingEvent signals that background polling of the provider has started.
type PollingEvent struct {
	TaskID string `json:"taskId"`
}

// ClarificationEvent asks the user to rephrase. Terminal.
type ClarificationEvent struct {
	Message string `json:"message"`
}

// ErrorEvent reports a dispatch or provider failure. Terminal.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (IntentEvent) EventType() string        { return "intent" }
func (ProgressEvent) EventType() string      { return "progress" }
func (CompleteEvent) EventType() string      { return "complete" }
func (TaskCreatedEvent) EventType() string   { return "task-created" }
func (PollingEvent) EventType() string       { return "polling" }
func (ClarificationEvent) EventType() string { return "clarification" }
func (ErrorEvent) EventType() string         { return "error" }

func (IntentEvent) generationEvent()        {}
func (ProgressEvent) generationEvent()      {}
func (CompleteEvent) generationEvent()      {}
func (TaskCreatedEvent) generationEvent()   {}
func (PollingEvent) generationEvent()       {}
func (ClarificationEvent) generationEvent() {}
func (ErrorEvent) generationEvent()         {}

// EncodeEvent serializes an event with its type discriminator inlined.
func EncodeEvent(ev Event) ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
	}
	switch e := ev.(type) {
	case IntentEvent:
		return json.Marshal(struct {
			tagged
			IntentEvent
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
	case TaskCreatedEvent:
		return json.Marshal(struct {
			tagged
			TaskCreatedEvent
		}{tagged{e.EventType()}, e})
	case PollingEvent:
		return json.Marshal(struct {
			tagged
			PollingEvent
		}{tagged{e.EventType()}, e})
	case ClarificationEvent:
		return json.Marshal(struct {
			tagged
			ClarificationEvent
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
