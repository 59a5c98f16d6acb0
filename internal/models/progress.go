package models

import "time"

// ProgressUpdate is an immutable snapshot emitted to the progress bus.
// SubTaskID is empty for aggregated task-level updates.
type ProgressUpdate struct {
	TaskID          ID        `json:"task_id"`
	SubTaskID       ID        `json:"sub_task_id,omitempty"`
	Status          Status    `json:"status"`
	Progress        *float64  `json:"progress,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	Speed           string    `json:"download_speed,omitempty"`
	ETASeconds      *int64    `json:"eta_seconds,omitempty"`
	Message         string    `json:"message,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// IsTaskLevel reports whether the update aggregates a whole task.
func (u ProgressUpdate) IsTaskLevel() bool {
	return u.SubTaskID.IsZero()
}

// IsTerminal reports whether the update announces a terminal status.
func (u ProgressUpdate) IsTerminal() bool {
	return u.Status.IsTerminal()
}

// ProgressPtr returns a pointer to p, for building updates inline.
func ProgressPtr(p float64) *float64 {
	return &p
}
