package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"muse/internal/chat"
	"muse/internal/generator"
	"muse/internal/intent"
	"muse/internal/logging"
	"muse/internal/task"
)

type fakeSync struct {
	env   *generator.Envelope
	err   error
	calls int
}

func (f *fakeSync) Generate(_ context.Context, _ string) (*generator.Envelope, error) {
	f.calls++
	return f.env, f.err
}

type fakeAsync struct {
	handle    string
	submitErr error

	mu    sync.Mutex
	polls []*generator.PollStatus
	next  int
}

func (f *fakeAsync) Submit(_ context.Context, _ string) (string, error) {
	return f.handle, f.submitErr
}

func (f *fakeAsync) Poll(_ context.Context, _ string) (*generator.PollStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.polls) == 0 {
		return &generator.PollStatus{Progress: 50, Message: "rendering"}, nil
	}
	i := f.next
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	f.next++
	return f.polls[i], nil
}

type fakeChat struct {
	called  bool
	session string
	history []chat.Message
}

func (f *fakeChat) Run(_ context.Context, sessionID string, history []chat.Message, sink chat.Sink) error {
	f.called = true
	f.session = sessionID
	f.history = history
	return sink(chat.DoneEvent{SessionID: sessionID})
}

type harness struct {
	dispatcher *Dispatcher
	registry   *task.Registry
	image      *fakeSync
	audio      *fakeSync
	video      *fakeAsync
	chat       *fakeChat
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry, err := task.NewRegistry(16, logging.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	h := &harness{
		registry: registry,
		image:    &fakeSync{env: &generator.Envelope{MediaType: generator.MediaImage, URL: "https://cdn.example.com/a.png", MimeType: "image/png"}},
		audio:    &fakeSync{env: &generator.Envelope{MediaType: generator.MediaAudio, Data: "AAEC", MimeType: "audio/mpeg"}},
		video:    &fakeAsync{handle: "prov-1"},
		chat:     &fakeChat{},
	}
	h.dispatcher = New(
		intent.NewClassifier(),
		registry,
		h.image,
		h.audio,
		h.video,
		h.chat,
		Config{
			GenerateTimeout: time.Second,
			SubmitTimeout:   time.Second,
			PollTimeout:     time.Second,
			VideoTimeout:    2 * time.Second,
			PollInterval:    2 * time.Millisecond,
		},
		logging.Nop(),
	)
	return h
}

func dispatch(t *testing.T, h *harness, message string) ([]Event, []chat.Event) {
	t.Helper()
	var genEvents []Event
	var chatEvents []chat.Event
	err := h.dispatcher.Dispatch(context.Background(), Request{Message: message, SessionID: "sess-1"},
		func(ev Event) error { genEvents = append(genEvents, ev); return nil },
		func(ev chat.Event) error { chatEvents = append(chatEvents, ev); return nil },
	)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	return genEvents, chatEvents
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func assertTypes(t *testing.T, events []Event, want ...string) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected events %v, got %v", want, got)
		}
	}
}

func TestLowConfidenceEmitsClarificationOnly(t *testing.T) {
	h := newHarness(t)
	events, _ := dispatch(t, h, "hello there")

	assertTypes(t, events, "intent", "clarification")
	if s := h.registry.Stats(); s.Total != 0 {
		t.Errorf("Expected no task records for clarification, got %+v", s)
	}
	if h.image.calls+h.audio.calls != 0 {
		t.Error("Expected no generator invocation below threshold")
	}
}

func TestChatHandoffBypassesRegistry(t *testing.T) {
	h := newHarness(t)
	events, chatEvents := dispatch(t, h, "chat: what is the weather like?")

	assertTypes(t, events, "intent")
	if !h.chat.called {
		t.Fatal("Expected chat loop to run")
	}
	if h.chat.session != "sess-1" {
		t.Errorf("Expected session id forwarded, got %q", h.chat.session)
	}
	if len(chatEvents) != 1 || chatEvents[0].EventType() != "done" {
		t.Errorf("Expected chat events on the chat sink, got %v", chatEvents)
	}
	if s := h.registry.Stats(); s.Total != 0 {
		t.Errorf("Chat handoff must bypass the registry, got %+v", s)
	}
}

func TestImageSyncPathCompletesInline(t *testing.T) {
	h := newHarness(t)
	events, _ := dispatch(t, h, "generate an image of a red circle")

	assertTypes(t, events, "intent", "complete")
	complete := events[1].(CompleteEvent)
	if complete.Media == nil || complete.Media.MediaType != generator.MediaImage {
		t.Errorf("Expected inline image envelope, got %+v", complete.Media)
	}
	if s := h.registry.Stats(); s.Total != 0 {
		t.Errorf("Sync path must not create task records, got %+v", s)
	}
}

func TestAudioSyncPathUsesAudioAdapter(t *testing.T) {
	h := newHarness(t)
	events, _ := dispatch(t, h, "generate speech saying welcome aboard")

	assertTypes(t, events, "intent", "complete")
	if h.audio.calls != 1 || h.image.calls != 0 {
		t.Errorf("Expected audio adapter invoked, got audio=%d image=%d", h.audio.calls, h.image.calls)
	}
}

func TestImageProviderErrorCreatesNoTask(t *testing.T) {
	h := newHarness(t)
	h.image.env = nil
	h.image.err = errors.New("prompt rejected")

	before := h.registry.Stats()
	events, _ := dispatch(t, h, "generate an image of a red circle")

	assertTypes(t, events, "intent", "error")
	if events[1].(ErrorEvent).Error == "" {
		t.Error("Expected error message in error event")
	}
	if after := h.registry.Stats(); after != before {
		t.Errorf("Stats changed across failed sync dispatch: %+v -> %+v", before, after)
	}
}

func TestVideoLifecycle(t *testing.T) {
	h := newHarness(t)
	h.video.polls = []*generator.PollStatus{
		{Progress: 25, Message: "preparing"},
		{Progress: 60, Message: "rendering"},
		{Done: true, Progress: 100, Result: &generator.Envelope{
			MediaType: generator.MediaVideo,
			URL:       "https://cdn.example.com/v.mp4",
			MimeType:  "video/mp4",
		}},
	}

	events, _ := dispatch(t, h, "create a video of ocean waves")
	assertTypes(t, events, "intent", "task-created", "polling")

	taskID := events[1].(TaskCreatedEvent).TaskID
	if taskID == "" {
		t.Fatal("Expected task id in task-created event")
	}

	ch, cancel, err := h.registry.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	lastProgress := -1
	var last task.Event
	for ev := range ch {
		last = ev
		if p, ok := ev.(task.ProgressEvent); ok {
			if p.Progress < lastProgress {
				t.Errorf("Progress regressed: %d after %d", p.Progress, lastProgress)
			}
			lastProgress = p.Progress
		}
	}
	if _, ok := last.(task.CompleteEvent); !ok {
		t.Errorf("Expected complete as final task event, got %#v", last)
	}

	h.dispatcher.Wait()
	rec, err := h.registry.Get(taskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != task.StatusCompleted || rec.Result == nil || rec.Error != "" {
		t.Errorf("Expected completed record with result, got %+v", rec)
	}
}

func TestVideoSubmitFailureFailsRecord(t *testing.T) {
	h := newHarness(t)
	h.video.submitErr = errors.New("quota exceeded")

	events, _ := dispatch(t, h, "create a video of ocean waves")
	assertTypes(t, events, "intent", "error")

	records := h.registry.List()
	if len(records) != 1 {
		t.Fatalf("Expected one record, got %d", len(records))
	}
	if records[0].Status != task.StatusFailed {
		t.Errorf("Expected record failed after submit error, got %s", records[0].Status)
	}
	if !strings.Contains(records[0].Error, "quota exceeded") {
		t.Errorf("Expected submit error recorded, got %q", records[0].Error)
	}
}

func TestVideoOverallTimeoutFailsRecord(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.cfg.VideoTimeout = 20 * time.Millisecond
	// Every poll reports processing; the overall deadline must fire.
	h.video.polls = []*generator.PollStatus{{Progress: 60, Message: "rendering"}}

	events, _ := dispatch(t, h, "create a video of ocean waves")
	taskID := events[1].(TaskCreatedEvent).TaskID

	h.dispatcher.Wait()
	rec, err := h.registry.Get(taskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != task.StatusFailed {
		t.Fatalf("Expected failed record after timeout, got %s", rec.Status)
	}
	if !strings.Contains(rec.Error, "timed out") {
		t.Errorf("Expected timeout reason, got %q", rec.Error)
	}
}

func TestVideoPollFailureFailsRecord(t *testing.T) {
	h := newHarness(t)
	h.video.polls = []*generator.PollStatus{
		{Progress: 25, Message: "preparing"},
		{Failed: true, Err: "provider reported generation failure"},
	}

	events, _ := dispatch(t, h, "create a video of ocean waves")
	taskID := events[1].(TaskCreatedEvent).TaskID

	h.dispatcher.Wait()
	rec, _ := h.registry.Get(taskID)
	if rec.Status != task.StatusFailed {
		t.Fatalf("Expected failed record, got %s", rec.Status)
	}
	if rec.Result != nil {
		t.Error("Failed record must not carry a result")
	}
}
