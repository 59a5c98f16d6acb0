package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 100

// Throttle thresholds. Updates below both are suppressed unless the status
// changed or the update is terminal.
const (
	minEmitInterval = 500 * time.Millisecond
	minEmitDelta    = 0.1 // percentage points
)

// Subscriber receives progress updates over a buffered channel. Slow
// consumers lose intermediate updates rather than blocking publishers.
type Subscriber struct {
	ID     string
	TaskID models.ID // empty = all tasks
	Events chan models.ProgressUpdate
}

// Matches reports whether the subscriber wants this update.
func (s *Subscriber) Matches(u models.ProgressUpdate) bool {
	return s.TaskID.IsZero() || s.TaskID == u.TaskID
}

// Bus fans progress updates out to subscribers, throttling repetitive
// intermediate updates per (task, sub-task) key.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
	logger      *slog.Logger

	trackMu sync.Mutex
	tracks  map[string]*emitTrack
}

// emitTrack is the per-key throttle state.
type emitTrack struct {
	lastEmit    time.Time
	lastPercent float64
	lastStatus  models.Status
}

// NewBus creates a progress bus.
func NewBus(logger *slog.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "progress_bus"),
		tracks:      make(map[string]*emitTrack),
	}
}

// Subscribe registers a subscriber. An empty taskID subscribes to all tasks.
func (b *Bus) Subscribe(taskID models.ID) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Events: make(chan models.ProgressUpdate, b.bufferSize),
	}
	b.subscribers[sub.ID] = sub

	b.logger.Debug("subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish delivers an update to matching subscribers. Intermediate updates
// that moved less than 0.1% within 500ms of the previous emission are
// dropped; status transitions and terminal updates always pass.
func (b *Bus) Publish(update models.ProgressUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	if !b.shouldEmit(update) {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Matches(update) {
			continue
		}
		select {
		case sub.Events <- update:
		default:
			// Channel full. Evict the oldest buffered update so the newest
			// state, and in particular terminal updates, still lands.
			select {
			case <-sub.Events:
			default:
			}
			select {
			case sub.Events <- update:
			default:
				b.logger.Warn("subscriber channel full, dropping update",
					"subscriber_id", sub.ID,
					"task_id", update.TaskID.String(),
				)
			}
		}
	}
}

// shouldEmit applies the throttle and records the emission when it passes.
func (b *Bus) shouldEmit(update models.ProgressUpdate) bool {
	key := update.TaskID.String() + "/" + update.SubTaskID.String()
	now := update.Timestamp

	b.trackMu.Lock()
	defer b.trackMu.Unlock()

	track, ok := b.tracks[key]
	if !ok {
		track = &emitTrack{}
		b.tracks[key] = track
	}

	percent := track.lastPercent
	if update.Progress != nil {
		percent = *update.Progress
	}

	pass := !ok ||
		update.Status != track.lastStatus ||
		update.Status.IsTerminal() ||
		now.Sub(track.lastEmit) >= minEmitInterval ||
		percent-track.lastPercent >= minEmitDelta

	if pass {
		track.lastEmit = now
		track.lastPercent = percent
		track.lastStatus = update.Status
		if update.Status.IsTerminal() {
			delete(b.tracks, key)
		}
	}
	return pass
}
