package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"muse/internal/logging"
)

// DefaultMaxIterations caps how many model round-trips one turn may make.
const DefaultMaxIterations = 8

// Sink receives turn events in order. A non-nil error means the client is
// gone; the loop treats it as cancellation and stops without emitting more.
type Sink func(Event) error

// TurnLoop drives a single chat turn: it interleaves model text with tool
// invocations, feeding each tool's result back into the model's context
// before the next completion. Tool calls within a turn run strictly
// sequentially because the model's subsequent output depends on each result.
type TurnLoop struct {
	model         ModelClient
	tools         ToolExecutor
	maxIterations int
	toolTimeout   time.Duration
	logger        logging.Logger
}

// NewTurnLoop creates a turn loop.
func NewTurnLoop(model ModelClient, tools ToolExecutor, toolTimeout time.Duration, logger logging.Logger) *TurnLoop {
	return &TurnLoop{
		model:         model,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		toolTimeout:   toolTimeout,
		logger:        logging.OrNop(logger),
	}
}

// Run executes one turn over the given conversation history. It emits
// exactly one terminal event (done or error) unless the sink reports the
// client gone first.
func (l *TurnLoop) Run(ctx context.Context, sessionID string, history []Message, sink Sink) error {
	msgs := make([]Message, len(history))
	copy(msgs, history)

	var usage Usage
	var defs []ToolDefinition
	if l.tools != nil {
		defs = l.tools.Definitions()
	}

	for iter := 0; iter < l.maxIterations; iter++ {
		resp, err := l.model.Complete(ctx, CompletionRequest{Messages: msgs, Tools: defs})
		if err != nil {
			l.logger.Error("Model completion failed (session=%s): %v", sessionID, err)
			return sink(ErrorEvent{Error: fmt.Sprintf("model call failed: %v", err)})
		}
		usage.Add(resp.Usage)

		if resp.Content != "" {
			if err := sink(TextEvent{Content: resp.Content}); err != nil {
				return err
			}
		}

		if len(resp.ToolCalls) == 0 {
			return sink(DoneEvent{Usage: usage, SessionID: sessionID})
		}

		msgs = append(msgs, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, err := l.runTool(ctx, tc, sink)
			if err != nil {
				return err
			}
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    stringifyResult(result),
				ToolCallID: tc.ID,
			})
		}
	}

	l.logger.Warn("Turn exceeded %d iterations (session=%s)", l.maxIterations, sessionID)
	return sink(ErrorEvent{Error: fmt.Sprintf("turn exceeded %d tool iterations", l.maxIterations)})
}

// runTool emits the tool_call event, executes the tool, and emits its
// tool_result. The result event is emitted only after the executor returns;
// a failing tool yields success=false and the turn continues.
func (l *TurnLoop) runTool(ctx context.Context, tc ToolCall, sink Sink) (any, error) {
	args, parseErr := parseToolArgs(tc.Arguments)
	if err := sink(ToolCallEvent{Tool: tc.Name, Args: args, ID: tc.ID}); err != nil {
		return nil, err
	}

	var result any
	success := true
	switch {
	case parseErr != nil:
		result = fmt.Sprintf("invalid tool arguments: %v", parseErr)
		success = false
		l.logger.Warn("Tool %s received unparseable arguments: %v", tc.Name, parseErr)
	case l.tools == nil:
		result = fmt.Sprintf("no executor for tool %q", tc.Name)
		success = false
		l.logger.Warn("Model requested tool %s but no executor is configured", tc.Name)
	default:
		toolCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
		out, err := l.tools.Execute(toolCtx, tc.Name, args)
		cancel()
		if err != nil {
			result = err.Error()
			success = false
			l.logger.Warn("Tool %s failed: %v", tc.Name, err)
		} else {
			result = out
		}
	}

	if err := sink(ToolResultEvent{Tool: tc.Name, ID: tc.ID, Result: result, Success: success}); err != nil {
		return nil, err
	}
	return result, nil
}

// parseToolArgs parses the model's argument JSON, repairing malformed output
// before giving up. Models occasionally emit truncated or unquoted JSON.
func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return nil, fmt.Errorf("unparseable arguments %q: %w", raw, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("arguments unparseable after repair %q: %w", raw, err)
	}
	return args, nil
}

func stringifyResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
