package models

import "time"

// TrackKind identifies the elementary stream a sub-task downloads.
type TrackKind string

const (
	// TrackVideo is the single selected video variant.
	TrackVideo TrackKind = "video"
	// TrackAudio is one audio language rendition.
	TrackAudio TrackKind = "audio"
	// TrackSubtitle is one subtitle language rendition.
	TrackSubtitle TrackKind = "subtitle"
)

// OutputExt returns the temp-file extension for the track kind.
func (k TrackKind) OutputExt() string {
	if k == TrackSubtitle {
		return ".vtt"
	}
	return ".ts"
}

// DisplayName returns a human-readable track label, including the language
// when one applies.
func (k TrackKind) DisplayName(language string) string {
	switch k {
	case TrackVideo:
		return "Video"
	case TrackAudio:
		if language != "" {
			return "Audio (" + language + ")"
		}
		return "Audio"
	case TrackSubtitle:
		if language != "" {
			return "Subtitles (" + language + ")"
		}
		return "Subtitles"
	}
	return string(k)
}

// SubTask is the unit of download for a single track. Sub-tasks carry only
// the parent task id, never a pointer back: ownership is unidirectional.
type SubTask struct {
	ID     ID        `json:"id"`
	TaskID ID        `json:"task_id"`
	Kind   TrackKind `json:"kind"`

	// Language is empty for video tracks.
	Language   string `json:"language,omitempty"`
	Codec      string `json:"codec,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Bitrate    int64  `json:"bitrate,omitempty"`

	PlaylistURL  string `json:"-"`
	TempFilePath string `json:"-"`

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
}

// NewSubTask creates a queued sub-task for one track.
func NewSubTask(kind TrackKind, language, playlistURL string) *SubTask {
	return &SubTask{
		ID:          NewID(),
		Kind:        kind,
		Language:    language,
		PlaylistURL: playlistURL,
		Status:      StatusQueued,
		CreatedAt:   time.Now(),
	}
}

// DisplayName returns the human-readable label for this track.
func (st *SubTask) DisplayName() string {
	return st.Kind.DisplayName(st.Language)
}

// Clone returns a copy safe for concurrent readers.
func (st *SubTask) Clone() *SubTask {
	clone := *st
	if st.ETASeconds != nil {
		eta := *st.ETASeconds
		clone.ETASeconds = &eta
	}
	return &clone
}

// MarkFinished freezes the sub-task in a terminal state. Progress and byte
// counters stop moving once a terminal state is entered.
func (st *SubTask) MarkFinished(status Status, errMsg string) {
	now := time.Now()
	st.CompletedAt = &now
	st.Status = status
	st.ErrorMessage = errMsg
	if status == StatusCompleted {
		st.Progress = 100
	}
}
