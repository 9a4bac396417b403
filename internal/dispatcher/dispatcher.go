package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"muse/internal/chat"
	"muse/internal/generator"
	"muse/internal/intent"
	"muse/internal/logging"
	"muse/internal/task"
)

// Sink receives generation events in order. A non-nil error means the client
// is gone; dispatch stops emitting but does not roll back created tasks.
type Sink func(Event) error

// ChatRunner drives a plain conversational turn. *chat.TurnLoop satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, sessionID string, history []chat.Message, sink chat.Sink) error
}

// Config bounds the dispatcher's upstream calls.
type Config struct {
	GenerateTimeout time.Duration // sync image/audio adapter calls
	SubmitTimeout   time.Duration // video task submission
	PollTimeout     time.Duration // a single video status poll
	VideoTimeout    time.Duration // overall deadline for one video task
	PollInterval    time.Duration
}

// Request is one inbound generation request.
type Request struct {
	Message   string
	SessionID string
}

// Dispatcher composes the classifier, the generator adapters, and the task
// registry: it decides synchronous-reply versus task-creation per request and
// owns the background polling that drives video tasks to a terminal status.
type Dispatcher struct {
	classifier *intent.Classifier
	registry   *task.Registry
	image      generator.SyncGenerator
	audio      generator.SyncGenerator
	video      generator.AsyncGenerator
	chatLoop   ChatRunner
	cfg        Config
	logger     logging.Logger

	pollers sync.WaitGroup
}

// New creates a dispatcher.
func New(
	classifier *intent.Classifier,
	registry *task.Registry,
	image generator.SyncGenerator,
	audio generator.SyncGenerator,
	video generator.AsyncGenerator,
	chatLoop ChatRunner,
	cfg Config,
	logger logging.Logger,
) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		registry:   registry,
		image:      image,
		audio:      audio,
		video:      video,
		chatLoop:   chatLoop,
		cfg:        cfg,
		logger:     logging.OrNop(logger),
	}
}

// Dispatch handles one request. Generation events go to sink; if the message
// turns out to be plain conversation the turn is handed to the chat loop and
// its events go to chatSink instead. The two sinks typically write to the
// same client connection.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, sink Sink, chatSink chat.Sink) error {
	cls := d.classifier.Classify(req.Message)
	if err := sink(IntentEvent{Intent: cls.Intent, Confidence: cls.Confidence}); err != nil {
		return err
	}

	// Explicit conversational requests bypass the registry entirely.
	if cls.Intent == intent.IntentChat && cls.AutoDispatch() {
		d.logger.Debug("Handing off to chat loop (session=%s)", req.SessionID)
		history := []chat.Message{{Role: "user", Content: req.Message}}
		return d.chatLoop.Run(ctx, req.SessionID, history, chatSink)
	}

	if !cls.AutoDispatch() {
		return sink(ClarificationEvent{
			Message: "I am not sure what you want me to generate. Could you rephrase, naming the media type (image, audio or video)?",
		})
	}

	switch cls.Intent {
	case intent.IntentImage:
		return d.dispatchSync(ctx, d.image, req.Message, sink)
	case intent.IntentAudio:
		return d.dispatchSync(ctx, d.audio, req.Message, sink)
	case intent.IntentVideo:
		return d.dispatchVideo(ctx, req.Message, sink)
	default:
		// Unreachable for auto-dispatch confidence, but the union is open
		// ended at this seam.
		return sink(ErrorEvent{Error: fmt.Sprintf("no generator for intent %q", cls.Intent)})
	}
}

// dispatchSync runs the blocking image/audio path: one terminal event, no
// task record. Provider failures leave nothing to poll, so no record is
// created for them either.
func (d *Dispatcher) dispatchSync(ctx context.Context, gen generator.SyncGenerator, prompt string, sink Sink) error {
	genCtx, cancel := context.WithTimeout(ctx, d.cfg.GenerateTimeout)
	defer cancel()

	env, err := gen.Generate(genCtx, prompt)
	if err != nil {
		d.logger.Warn("Synchronous generation failed: %v", err)
		return sink(ErrorEvent{Error: err.Error()})
	}
	return sink(CompleteEvent{Media: env})
}

// dispatchVideo creates a registry record, obtains the provider handle, and
// schedules background polling. The requesting stream only learns the task
// id; progress flows on the task stream.
func (d *Dispatcher) dispatchVideo(ctx context.Context, prompt string, sink Sink) error {
	rec := d.registry.Create(generator.MediaVideo)

	submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	handle, err := d.video.Submit(submitCtx, prompt)
	cancel()
	if err != nil {
		// The record must not be left pending forever.
		d.failTask(rec.ID, fmt.Sprintf("video submission failed: %v", err))
		return sink(ErrorEvent{Error: err.Error()})
	}

	if err := d.registry.Transition(rec.ID, task.StatusProcessing, task.Patch{Stage: "submitted"}); err != nil {
		d.logger.Error("Transition to processing failed for %s: %v", rec.ID, err)
	}

	if err := sink(TaskCreatedEvent{TaskID: rec.ID}); err != nil {
		// Client gone; the task still runs to completion in the registry.
		d.startPolling(rec.ID, handle)
		return err
	}
	err = sink(PollingEvent{TaskID: rec.ID})
	d.startPolling(rec.ID, handle)
	return err
}

// startPolling launches the background poll loop on a context detached from
// the request: the client closing its stream must not abort the task.
func (d *Dispatcher) startPolling(taskID, handle string) {
	d.pollers.Add(1)
	go func() {
		defer d.pollers.Done()
		d.pollUntilTerminal(taskID, handle)
	}()
}

func (d *Dispatcher) pollUntilTerminal(taskID, handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.VideoTimeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// Observe once before the first tick.
	if d.observeOnce(ctx, taskID, handle) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			d.failTask(taskID, fmt.Sprintf("video generation timed out after %s", d.cfg.VideoTimeout))
			return
		case <-ticker.C:
			if d.observeOnce(ctx, taskID, handle) {
				return
			}
		}
	}
}

// observeOnce polls the provider once and applies the observation to the
// registry. Returns true when the task reached a terminal status.
func (d *Dispatcher) observeOnce(ctx context.Context, taskID, handle string) bool {
	pollCtx, cancel := context.WithTimeout(ctx, d.cfg.PollTimeout)
	status, err := d.video.Poll(pollCtx, handle)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// Overall deadline expired mid-poll; the timeout branch reports it.
			d.failTask(taskID, fmt.Sprintf("video generation timed out after %s", d.cfg.VideoTimeout))
			return true
		}
		d.failTask(taskID, fmt.Sprintf("video polling failed: %v", err))
		return true
	}

	switch {
	case status.Done:
		d.transition(taskID, task.StatusCompleted, task.Patch{Result: status.Result})
		return true
	case status.Failed:
		d.failTask(taskID, status.Err)
		return true
	default:
		p := status.Progress
		d.transition(taskID, task.StatusProcessing, task.Patch{Progress: &p, Message: status.Message})
		return false
	}
}

// failTask drives a record to failed from whichever non-terminal state it is
// in. Stale rejections mean a racing update already finished the task.
func (d *Dispatcher) failTask(taskID, reason string) {
	if rec, err := d.registry.Get(taskID); err == nil && rec.Status == task.StatusPending {
		d.transition(taskID, task.StatusProcessing, task.Patch{})
	}
	d.transition(taskID, task.StatusFailed, task.Patch{Error: reason})
}

func (d *Dispatcher) transition(taskID string, status task.Status, patch task.Patch) {
	err := d.registry.Transition(taskID, status, patch)
	if err != nil && !errors.Is(err, task.ErrStaleTransition) {
		d.logger.Error("Transition of %s to %s failed: %v", taskID, status, err)
	}
}

// Wait blocks until all background pollers have finished. Used on shutdown
// and in tests.
func (d *Dispatcher) Wait() {
	d.pollers.Wait()
}
