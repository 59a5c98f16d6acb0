package progress

import (
	"sync"
	"time"
)

// Tracker accumulates byte counts for one track and derives the rate
// figures reported in progress updates. Byte counts only ever grow.
type Tracker struct {
	mu         sync.Mutex
	startedAt  time.Time
	downloaded int64
	total      int64
}

// NewTracker starts tracking from now.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

// SetTotal records the expected byte total once it becomes known.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > t.total {
		t.total = total
	}
}

// Add accumulates downloaded bytes.
func (t *Tracker) Add(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.downloaded += n
	t.mu.Unlock()
}

// Snapshot is a point-in-time view of the tracked figures.
type Snapshot struct {
	Downloaded int64
	Total      int64
	Percent    float64
	Speed      float64
	ETASeconds *int64
}

// Snapshot derives the current figures.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	downloaded, total, startedAt := t.downloaded, t.total, t.startedAt
	t.mu.Unlock()

	speed := Speed(downloaded, time.Since(startedAt))
	return Snapshot{
		Downloaded: downloaded,
		Total:      total,
		Percent:    Percent(downloaded, total),
		Speed:      speed,
		ETASeconds: ETA(downloaded, total, speed),
	}
}
