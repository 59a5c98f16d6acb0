package models

// ResultStatus is the discriminant of a DownloadResult.
type ResultStatus string

const (
	// ResultSuccess indicates the operation produced its artefact.
	ResultSuccess ResultStatus = "success"
	// ResultFailed indicates an unrecoverable error.
	ResultFailed ResultStatus = "failed"
	// ResultNotFound indicates the content does not exist upstream.
	ResultNotFound ResultStatus = "not_found"
	// ResultCancelled indicates cooperative cancellation.
	ResultCancelled ResultStatus = "cancelled"
	// ResultPartial indicates some but not all requested pieces succeeded.
	ResultPartial ResultStatus = "partial"
)

// Metadata keys conventionally set on task-level results.
const (
	// MetaMissingLanguages lists requested audio languages with no rendition.
	MetaMissingLanguages = "missingLanguages"
	// MetaMissingSubtitles lists requested subtitle languages with no rendition.
	MetaMissingSubtitles = "missingSubtitles"
)

// DownloadResult is the discriminated outcome of any track-level or
// task-level operation. Expected domain failures travel through results;
// errors are reserved for broken invariants.
type DownloadResult struct {
	Status   ResultStatus   `json:"status"`
	Message  string         `json:"message,omitempty"`
	Err      error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Succeeded reports whether the result is a success.
func (r DownloadResult) Succeeded() bool {
	return r.Status == ResultSuccess
}

// WithMeta sets a metadata key, allocating the map on first use.
func (r DownloadResult) WithMeta(key string, value any) DownloadResult {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// SubTaskStatus maps the result discriminant to the sub-task terminal status.
func (r DownloadResult) SubTaskStatus() Status {
	switch r.Status {
	case ResultSuccess, ResultPartial:
		return StatusCompleted
	case ResultNotFound:
		return StatusNotFound
	case ResultCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Success builds a success result.
func Success(message string) DownloadResult {
	return DownloadResult{Status: ResultSuccess, Message: message}
}

// Failure builds a failed result wrapping the cause.
func Failure(message string, err error) DownloadResult {
	return DownloadResult{Status: ResultFailed, Message: message, Err: err}
}

// NotFoundResult builds a not-found result.
func NotFoundResult(message string) DownloadResult {
	return DownloadResult{Status: ResultNotFound, Message: message}
}

// CancelledResult builds a cancelled result.
func CancelledResult() DownloadResult {
	return DownloadResult{Status: ResultCancelled, Message: "cancelled"}
}
