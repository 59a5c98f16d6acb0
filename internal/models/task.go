package models

import "time"

// MediaKind distinguishes movie downloads from TV episode downloads.
type MediaKind string

const (
	// KindMovie is a single feature download.
	KindMovie MediaKind = "movie"
	// KindTV is a single episode download and carries season/episode numbers.
	KindTV MediaKind = "tv"
)

// QualityBest selects the highest-bandwidth variant during resolution.
const QualityBest = "best"

// Task is a single user-level download request. A task is created by the
// public API, mutated only by the queue worker that owns it, and lives in
// memory for the lifetime of the process.
type Task struct {
	ID   ID        `json:"id"`
	Kind MediaKind `json:"kind"`

	// Selection.
	CatalogueID string   `json:"catalogue_id"`
	Season      int      `json:"season,omitempty"`
	Episode     int      `json:"episode,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Quality     string   `json:"quality,omitempty"`

	// Display attributes, populated after resolution.
	Title       string `json:"title,omitempty"`
	Year        int    `json:"year,omitempty"`
	EpisodeName string `json:"episode_name,omitempty"`

	// Paths.
	OutputPath string `json:"output_path,omitempty"`
	TempDir    string `json:"-"`

	// Aggregated progress.
	Status          Status  `json:"status"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	Speed           float64 `json:"-"`
	ETASeconds      *int64  `json:"eta_seconds,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// SubTasks in insertion order (video first, then audio, then subtitles).
	SubTasks []*SubTask `json:"sub_tasks,omitempty"`

	// Result carries the final outcome, including missing-language and
	// missing-subtitle metadata for partially satisfied requests.
	Result *DownloadResult `json:"result,omitempty"`
}

// NewTask creates a queued task with a fresh identifier.
func NewTask(kind MediaKind, catalogueID string) *Task {
	return &Task{
		ID:          NewID(),
		Kind:        kind,
		CatalogueID: catalogueID,
		Status:      StatusQueued,
		Quality:     QualityBest,
		CreatedAt:   time.Now(),
	}
}

// AddSubTask appends a sub-task, preserving display order.
func (t *Task) AddSubTask(st *SubTask) {
	st.TaskID = t.ID
	t.SubTasks = append(t.SubTasks, st)
}

// SubTask looks up an owned sub-task by id.
func (t *Task) SubTask(id ID) *SubTask {
	for _, st := range t.SubTasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Clone returns a deep copy safe for concurrent readers. The owning worker
// mutates the original; everyone else sees snapshots.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Languages = append([]string(nil), t.Languages...)
	if t.ETASeconds != nil {
		eta := *t.ETASeconds
		clone.ETASeconds = &eta
	}
	clone.SubTasks = make([]*SubTask, len(t.SubTasks))
	for i, st := range t.SubTasks {
		clone.SubTasks[i] = st.Clone()
	}
	if t.Result != nil {
		result := *t.Result
		if t.Result.Metadata != nil {
			result.Metadata = make(map[string]any, len(t.Result.Metadata))
			for k, v := range t.Result.Metadata {
				result.Metadata[k] = v
			}
		}
		clone.Result = &result
	}
	return &clone
}

// MarkStarted records the transition out of the queue.
func (t *Task) MarkStarted() {
	now := time.Now()
	t.StartedAt = &now
}

// MarkFinished records the terminal timestamp and freezes the error message.
func (t *Task) MarkFinished(status Status, errMsg string) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = status
	t.ErrorMessage = errMsg
	if status == StatusCompleted {
		t.Progress = 100
	}
}
