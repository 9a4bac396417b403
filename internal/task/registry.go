package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"muse/internal/generator"
	"muse/internal/logging"
)

// subscriberBuffer bounds how many undelivered events a slow task-stream
// client may accumulate before drops begin.
const subscriberBuffer = 16

// Patch carries the optional fields a transition may write. Fields that do
// not apply to the target status are ignored.
type Patch struct {
	Progress *int
	Stage    string
	Message  string
	Result   *generator.Envelope
	Error    string
}

// Registry is the authoritative in-memory store of task records. Live records
// stay in a mutex-guarded map; terminal records move to a bounded LRU so
// completed work does not accumulate without limit. All mutation funnels
// through Transition.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*Record
	terminal *lru.Cache[string, *Record]
	subs     map[string][]chan Event
	logger   logging.Logger
}

// NewRegistry creates a registry retaining up to retention terminal records.
func NewRegistry(retention int, logger logging.Logger) (*Registry, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %d", retention)
	}
	cache, err := lru.New[string, *Record](retention)
	if err != nil {
		return nil, fmt.Errorf("create retention cache: %w", err)
	}
	return &Registry{
		live:     make(map[string]*Record),
		terminal: cache,
		subs:     make(map[string][]chan Event),
		logger:   logging.OrNop(logger),
	}, nil
}

// Create allocates a new record in pending and returns a snapshot of it.
func (r *Registry) Create(mediaType generator.MediaType) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	rec := &Record{
		ID:        fmt.Sprintf("task-%s", uuid.New().String()),
		Type:      mediaType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.live[rec.ID] = rec
	r.logger.Info("Task created: id=%s type=%s", rec.ID, rec.Type)
	return *rec
}

// Transition atomically moves a record along the lifecycle graph. Permitted
// edges: pending→processing, processing→processing (progress patch),
// processing→completed, processing→failed. Any other edge, including any
// write to a terminal record, is rejected with ErrStaleTransition and leaves
// the record untouched.
func (r *Registry) Transition(id string, next Status, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok {
		if _, wasTerminal := r.terminal.Get(id); wasTerminal {
			r.logger.Debug("Stale transition on terminal task %s to %s", id, next)
			return ErrStaleTransition
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch {
	case rec.Status == StatusPending && next == StatusProcessing:
		rec.Status = StatusProcessing
		rec.Progress = clampProgress(patch.Progress, 0)
		rec.UpdatedAt = time.Now()
		r.publish(id, ProgressEvent{Stage: stageOr(patch.Stage, "processing"), Progress: rec.Progress, Message: patch.Message}, false)

	case rec.Status == StatusProcessing && next == StatusProcessing:
		// Progress is monotone: a late or out-of-order poll result never
		// moves it backwards.
		p := clampProgress(patch.Progress, rec.Progress)
		if p > rec.Progress {
			rec.Progress = p
		}
		rec.UpdatedAt = time.Now()
		r.publish(id, ProgressEvent{Stage: stageOr(patch.Stage, "processing"), Progress: rec.Progress, Message: patch.Message}, false)

	case rec.Status == StatusProcessing && next == StatusCompleted:
		if patch.Result == nil {
			return fmt.Errorf("transition to completed requires a result: %s", id)
		}
		now := time.Now()
		rec.Status = StatusCompleted
		rec.Progress = 100
		rec.Result = patch.Result
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		r.retire(rec)
		r.publishTerminal(id, CompleteEvent{Result: rec.Result})
		r.logger.Info("Task completed: id=%s type=%s", id, rec.Type)

	case rec.Status == StatusProcessing && next == StatusFailed:
		now := time.Now()
		rec.Status = StatusFailed
		rec.Error = patch.Error
		if rec.Error == "" {
			rec.Error = "generation failed"
		}
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		r.retire(rec)
		r.publishTerminal(id, ErrorEvent{Error: rec.Error})
		r.logger.Warn("Task failed: id=%s type=%s error=%s", id, rec.Type, rec.Error)

	default:
		r.logger.Debug("Stale transition rejected: id=%s %s→%s", id, rec.Status, next)
		return ErrStaleTransition
	}
	return nil
}

// Get returns a snapshot of the record, or ErrNotFound for ids the registry
// never issued or has evicted.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.live[id]; ok {
		return *rec, nil
	}
	if rec, ok := r.terminal.Get(id); ok {
		return *rec, nil
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns snapshots of all retained records, newest first.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.live)+r.terminal.Len())
	for _, rec := range r.live {
		records = append(records, *rec)
	}
	for _, id := range r.terminal.Keys() {
		if rec, ok := r.terminal.Peek(id); ok {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// Stats computes aggregate counts from current registry contents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, rec := range r.live {
		switch rec.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		}
	}
	for _, id := range r.terminal.Keys() {
		if rec, ok := r.terminal.Peek(id); ok {
			switch rec.Status {
			case StatusCompleted:
				s.Completed++
			case StatusFailed:
				s.Failed++
			}
		}
	}
	s.Total = s.Pending + s.Processing + s.Completed + s.Failed
	return s
}

// Subscribe registers a listener for a task's event stream. The returned
// channel is preloaded with an init snapshot; for already-terminal tasks it
// also carries the terminal event and arrives closed. The cancel function is
// idempotent and must be called when the listener goes away.
func (r *Registry) Subscribe(id string) (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.live[id]; ok {
		ch := make(chan Event, subscriberBuffer)
		ch <- InitEvent{Task: *rec}
		r.subs[id] = append(r.subs[id], ch)
		return ch, func() { r.unsubscribe(id, ch) }, nil
	}

	if rec, ok := r.terminal.Get(id); ok {
		ch := make(chan Event, 2)
		ch <- InitEvent{Task: *rec}
		if rec.Status == StatusCompleted {
			ch <- CompleteEvent{Result: rec.Result}
		} else {
			ch <- ErrorEvent{Error: rec.Error}
		}
		close(ch)
		return ch, func() {}, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *Registry) unsubscribe(id string, ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[id]
	for i, sub := range subs {
		if sub == ch {
			r.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(r.subs[id]) == 0 {
		delete(r.subs, id)
	}
}

// retire moves a terminal record out of the live map into the bounded cache.
func (r *Registry) retire(rec *Record) {
	delete(r.live, rec.ID)
	r.terminal.Add(rec.ID, rec)
}

// publish sends an event to every subscriber of the task. Non-critical events
// are dropped when a subscriber's buffer is full to avoid blocking the
// mutation path.
func (r *Registry) publish(id string, ev Event, critical bool) {
	for _, ch := range r.subs[id] {
		select {
		case ch <- ev:
		default:
			if critical && r.deliverCritical(ch, ev) {
				continue
			}
			r.logger.Warn("Subscriber buffer full for task %s, dropping %s event", id, ev.EventType())
		}
	}
}

// publishTerminal delivers a terminal event with drop-oldest semantics, then
// closes every subscriber channel so no event can follow a terminal one.
func (r *Registry) publishTerminal(id string, ev Event) {
	r.publish(id, ev, true)
	for _, ch := range r.subs[id] {
		close(ch)
	}
	delete(r.subs, id)
}

// deliverCritical makes room for a terminal event by dropping the oldest
// buffered event. A terminal event must reach the subscriber even when the
// buffer is saturated with progress updates.
func (r *Registry) deliverCritical(ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
	}
	select {
	case <-ch:
	default:
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

func clampProgress(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	switch {
	case *p < 0:
		return 0
	case *p > 100:
		return 100
	default:
		return *p
	}
}

func stageOr(stage, fallback string) string {
	if stage == "" {
		return fallback
	}
	return stage
}
