package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"muse/internal/logging"
)

type scriptedModel struct {
	responses []*CompletionResponse
	err       error
	calls     []CompletionRequest
}

func (m *scriptedModel) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.calls) > len(m.responses) {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", len(m.responses))
	}
	return m.responses[len(m.calls)-1], nil
}

func (m *scriptedModel) Model() string { return "scripted" }

type recordingExecutor struct {
	executed []string
	args     []map[string]any
	err      error
}

func (e *recordingExecutor) Execute(_ context.Context, name string, args map[string]any) (any, error) {
	e.executed = append(e.executed, name)
	e.args = append(e.args, args)
	if e.err != nil {
		return nil, e.err
	}
	return "ok:" + name, nil
}

func (e *recordingExecutor) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "search", Description: "search things"}}
}

func collectSink(events *[]Event) Sink {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func newTestLoop(model ModelClient, tools ToolExecutor) *TurnLoop {
	return NewTurnLoop(model, tools, time.Second, logging.Nop())
}

func TestPlainTextTurn(t *testing.T) {
	model := &scriptedModel{responses: []*CompletionResponse{
		{Content: "hi!", Usage: Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}},
	}}
	loop := newTestLoop(model, &recordingExecutor{})

	var events []Event
	err := loop.Run(context.Background(), "sess-1", []Message{{Role: "user", Content: "hello"}}, collectSink(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected [text done], got %d events", len(events))
	}
	if txt, ok := events[0].(TextEvent); !ok || txt.Content != "hi!" {
		t.Errorf("Expected text event first, got %#v", events[0])
	}
	done, ok := events[1].(DoneEvent)
	if !ok {
		t.Fatalf("Expected done event last, got %#v", events[1])
	}
	if done.SessionID != "sess-1" || done.Usage.TotalTokens != 7 {
		t.Errorf("Unexpected done payload: %+v", done)
	}
}

func TestSequentialToolCallOrdering(t *testing.T) {
	model := &scriptedModel{responses: []*CompletionResponse{
		{
			ToolCalls: []ToolCall{
				{ID: "1", Name: "search", Arguments: `{"q":"first"}`},
				{ID: "2", Name: "search", Arguments: `{"q":"second"}`},
			},
			Usage: Usage{TotalTokens: 10},
		},
		{Content: "found it", Usage: Usage{TotalTokens: 4}},
	}}
	exec := &recordingExecutor{}
	loop := newTestLoop(model, exec)

	var events []Event
	if err := loop.Run(context.Background(), "sess-1", nil, collectSink(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType())
	}
	want := []string{"tool_call", "tool_result", "tool_call", "tool_result", "text", "done"}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, types)
		}
	}

	// Every tool_result pairs with the preceding tool_call's id, and the
	// second call is never emitted before the first result.
	if events[0].(ToolCallEvent).ID != "1" || events[1].(ToolResultEvent).ID != "1" {
		t.Error("First call/result pair must carry id 1")
	}
	if events[2].(ToolCallEvent).ID != "2" || events[3].(ToolResultEvent).ID != "2" {
		t.Error("Second call/result pair must carry id 2")
	}
	if len(exec.executed) != 2 {
		t.Fatalf("Expected 2 executions, got %d", len(exec.executed))
	}
	if exec.args[0]["q"] != "first" || exec.args[1]["q"] != "second" {
		t.Errorf("Executor received wrong arguments: %v", exec.args)
	}

	// Usage accumulates across both completions.
	if done := events[5].(DoneEvent); done.Usage.TotalTokens != 14 {
		t.Errorf("Expected accumulated usage 14, got %d", done.Usage.TotalTokens)
	}

	// The second completion must see the tool results in context.
	if len(model.calls) != 2 {
		t.Fatalf("Expected 2 model calls, got %d", len(model.calls))
	}
	second := model.calls[1].Messages
	var toolMsgs int
	for _, m := range second {
		if m.Role == "tool" {
			toolMsgs++
		}
	}
	if toolMsgs != 2 {
		t.Errorf("Expected 2 tool messages fed back to the model, got %d", toolMsgs)
	}
}

func TestToolFailureContinuesTurn(t *testing.T) {
	model := &scriptedModel{responses: []*CompletionResponse{
		{ToolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: `{}`}}},
		{Content: "the tool failed, sorry"},
	}}
	exec := &recordingExecutor{err: errors.New("tool exploded")}
	loop := newTestLoop(model, exec)

	var events []Event
	if err := loop.Run(context.Background(), "sess-1", nil, collectSink(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	res, ok := events[1].(ToolResultEvent)
	if !ok {
		t.Fatalf("Expected tool_result second, got %#v", events[1])
	}
	if res.Success {
		t.Error("Expected success=false for failing tool")
	}
	if _, ok := events[len(events)-1].(DoneEvent); !ok {
		t.Errorf("Expected turn to finish with done despite tool failure, got %#v", events[len(events)-1])
	}
}

func TestMalformedToolArgsRepaired(t *testing.T) {
	// Unquoted keys and a trailing comma: repairable.
	model := &scriptedModel{responses: []*CompletionResponse{
		{ToolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: `{q: "circle",}`}}},
		{Content: "done"},
	}}
	exec := &recordingExecutor{}
	loop := newTestLoop(model, exec)

	var events []Event
	if err := loop.Run(context.Background(), "sess-1", nil, collectSink(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(exec.args) != 1 || exec.args[0]["q"] != "circle" {
		t.Errorf("Expected repaired arguments to reach the executor, got %v", exec.args)
	}
	if res := events[1].(ToolResultEvent); !res.Success {
		t.Errorf("Expected success after repair, got %+v", res)
	}
}

func TestUnparseableToolArgsFailResult(t *testing.T) {
	// Repairs to a JSON array, which is not a valid argument object.
	model := &scriptedModel{responses: []*CompletionResponse{
		{ToolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: `[1, 2`}}},
		{Content: "ok"},
	}}
	exec := &recordingExecutor{}
	loop := newTestLoop(model, exec)

	var events []Event
	if err := loop.Run(context.Background(), "sess-1", nil, collectSink(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(exec.executed) != 0 {
		t.Error("Executor must not run with unparseable arguments")
	}
	if res := events[1].(ToolResultEvent); res.Success {
		t.Errorf("Expected success=false for unparseable arguments, got %+v", res)
	}
}

func TestModelErrorEmitsSingleError(t *testing.T) {
	model := &scriptedModel{err: errors.New("upstream down")}
	loop := newTestLoop(model, &recordingExecutor{})

	var events []Event
	if err := loop.Run(context.Background(), "sess-1", nil, collectSink(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected exactly one error event, got %d events", len(events))
	}
	if _, ok := events[0].(ErrorEvent); !ok {
		t.Errorf("Expected error event, got %#v", events[0])
	}
}

func TestSinkErrorStopsLoop(t *testing.T) {
	model := &scriptedModel{responses: []*CompletionResponse{
		{ToolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: `{}`}}},
	}}
	exec := &recordingExecutor{}
	loop := newTestLoop(model, exec)

	gone := errors.New("client disconnected")
	err := loop.Run(context.Background(), "sess-1", nil, func(Event) error { return gone })
	if !errors.Is(err, gone) {
		t.Fatalf("Expected sink error surfaced, got %v", err)
	}
	if len(exec.executed) != 0 {
		t.Error("Expected no tool execution after the client is gone")
	}
}
