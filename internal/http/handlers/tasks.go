// Package handlers provides HTTP API handlers for fetcharr.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fetcharr/fetcharr/internal/downloader"
	"github.com/fetcharr/fetcharr/internal/models"
)

// TasksHandler exposes the download task lifecycle over the REST API.
type TasksHandler struct {
	queue *downloader.Queue
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(queue *downloader.Queue) *TasksHandler {
	return &TasksHandler{queue: queue}
}

// SubTaskResponse represents a per-track sub-task in API responses.
type SubTaskResponse struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Language        string     `json:"language,omitempty"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      int64      `json:"total_bytes,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskResponse represents a download task in API responses.
type TaskResponse struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	CatalogueID string   `json:"catalogue_id"`
	Season      int      `json:"season,omitempty"`
	Episode     int      `json:"episode,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Quality     string   `json:"quality,omitempty"`

	Title       string `json:"title,omitempty"`
	Year        int    `json:"year,omitempty"`
	EpisodeName string `json:"episode_name,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`

	Status          string   `json:"status"`
	Progress        float64  `json:"progress"`
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      int64    `json:"total_bytes,omitempty"`
	ETASeconds      *int64   `json:"eta_seconds,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	MissingLangs    []string `json:"missing_languages,omitempty"`
	MissingSubs     []string `json:"missing_subtitles,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SubTasks []SubTaskResponse `json:"sub_tasks,omitempty"`
}

// TaskFromModel converts a task snapshot to a response.
func TaskFromModel(task *models.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID.String(),
		Kind:            string(task.Kind),
		CatalogueID:     task.CatalogueID,
		Season:          task.Season,
		Episode:         task.Episode,
		Languages:       task.Languages,
		Quality:         task.Quality,
		Title:           task.Title,
		Year:            task.Year,
		EpisodeName:     task.EpisodeName,
		OutputPath:      task.OutputPath,
		Status:          string(task.Status),
		Progress:        task.Progress,
		DownloadedBytes: task.DownloadedBytes,
		TotalBytes:      task.TotalBytes,
		ETASeconds:      task.ETASeconds,
		ErrorMessage:    task.ErrorMessage,
		CreatedAt:       task.CreatedAt,
		StartedAt:       task.StartedAt,
		CompletedAt:     task.CompletedAt,
	}
	if task.Result != nil {
		resp.MissingLangs = metadataStrings(task.Result.Metadata, models.MetaMissingLanguages)
		resp.MissingSubs = metadataStrings(task.Result.Metadata, models.MetaMissingSubtitles)
	}
	for _, st := range task.SubTasks {
		resp.SubTasks = append(resp.SubTasks, SubTaskResponse{
			ID:              st.ID.String(),
			Kind:            string(st.Kind),
			Language:        st.Language,
			Status:          string(st.Status),
			Progress:        st.Progress,
			DownloadedBytes: st.DownloadedBytes,
			TotalBytes:      st.TotalBytes,
			ErrorMessage:    st.ErrorMessage,
			StartedAt:       st.StartedAt,
			CompletedAt:     st.CompletedAt,
		})
	}
	return resp
}

// metadataStrings extracts a []string entry from result metadata. The bus
// serialises metadata as JSON, so values may come back as []any.
func metadataStrings(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CreateTaskBody is the request body for creating a task.
type CreateTaskBody struct {
	Kind        string   `json:"kind" enum:"movie,tv" doc:"Media kind"`
	CatalogueID string   `json:"catalogue_id" minLength:"1" doc:"Catalogue identifier of the content"`
	Season      int      `json:"season,omitempty" minimum:"0" doc:"Season number (TV only)"`
	Episode     int      `json:"episode,omitempty" minimum:"0" doc:"Episode number (TV only)"`
	Languages   []string `json:"languages,omitempty" doc:"Preferred audio/subtitle languages, highest priority first"`
	Quality     string   `json:"quality,omitempty" doc:"Video quality, e.g. 'best', '1080', '720'"`
}

// CreateTaskInput is the input for creating a task.
type CreateTaskInput struct {
	Body CreateTaskBody
}

// CreateTaskOutput is the output for creating a task.
type CreateTaskOutput struct {
	Status int
	Body   TaskResponse
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Status string `query:"status" doc:"Filter by task status"`
}

// ListTasksBody is the response body for listing tasks.
type ListTasksBody struct {
	Tasks []TaskResponse `json:"tasks"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body ListTasksBody
}

// GetTaskInput is the input for fetching a single task.
type GetTaskInput struct {
	TaskID string `path:"task_id" doc:"Task ID"`
}

// GetTaskOutput is the output for fetching a single task.
type GetTaskOutput struct {
	Body TaskResponse
}

// CancelTaskInput is the input for cancelling a task.
type CancelTaskInput struct {
	TaskID string `path:"task_id" doc:"Task ID"`
}

// CancelTaskOutput is the output for cancelling a task.
type CancelTaskOutput struct {
	Body TaskResponse
}

// Register registers the task routes with the API.
func (h *TasksHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        "POST",
		Path:          "/api/v1/tasks",
		Summary:       "Create download task",
		Description:   "Queues a new download for a catalogue item and returns the task in its initial queued state",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
	}, h.CreateTask)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List download tasks",
		Description: "Returns all known tasks in creation order",
		Tags:        []string{"Tasks"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Get download task",
		Description: "Returns a snapshot of one task including per-track sub-tasks",
		Tags:        []string{"Tasks"},
	}, h.GetTask)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "DELETE",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Cancel download task",
		Description: "Cancels a queued or running task; cancelling a finished task is a no-op",
		Tags:        []string{"Tasks"},
	}, h.CancelTask)
}

// CreateTask queues a new download.
func (h *TasksHandler) CreateTask(ctx context.Context, input *CreateTaskInput) (*CreateTaskOutput, error) {
	kind := models.MediaKind(input.Body.Kind)
	if kind == models.KindTV && (input.Body.Season < 1 || input.Body.Episode < 1) {
		return nil, huma.Error422UnprocessableEntity("tv tasks require season and episode")
	}
	if kind == models.KindMovie && (input.Body.Season != 0 || input.Body.Episode != 0) {
		return nil, huma.Error422UnprocessableEntity("movie tasks do not take season or episode")
	}

	task := models.NewTask(kind, input.Body.CatalogueID)
	task.Season = input.Body.Season
	task.Episode = input.Body.Episode
	task.Languages = input.Body.Languages
	if input.Body.Quality != "" {
		task.Quality = input.Body.Quality
	}

	if err := h.queue.Enqueue(task); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}

	// A worker may already have picked the task up; respond with a snapshot
	// rather than the live task.
	snapshot, err := h.queue.Get(task.ID)
	if err != nil {
		return nil, err
	}
	return &CreateTaskOutput{
		Status: 201,
		Body:   TaskFromModel(snapshot),
	}, nil
}

// ListTasks returns snapshots of all tasks.
func (h *TasksHandler) ListTasks(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	tasks := h.queue.List()

	output := &ListTasksOutput{
		Body: ListTasksBody{Tasks: make([]TaskResponse, 0, len(tasks))},
	}
	for _, task := range tasks {
		if input.Status != "" && string(task.Status) != input.Status {
			continue
		}
		output.Body.Tasks = append(output.Body.Tasks, TaskFromModel(task))
	}
	return output, nil
}

// GetTask returns one task snapshot.
func (h *TasksHandler) GetTask(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	id, err := models.ParseID(input.TaskID)
	if err != nil {
		return nil, huma.Error404NotFound("task not found")
	}

	task, err := h.queue.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound("task not found")
		}
		return nil, err
	}
	return &GetTaskOutput{Body: TaskFromModel(task)}, nil
}

// CancelTask requests cancellation and returns the latest snapshot.
func (h *TasksHandler) CancelTask(ctx context.Context, input *CancelTaskInput) (*CancelTaskOutput, error) {
	id, err := models.ParseID(input.TaskID)
	if err != nil {
		return nil, huma.Error404NotFound("task not found")
	}

	if err := h.queue.Cancel(id); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound("task not found")
		}
		return nil, err
	}

	task, err := h.queue.Get(id)
	if err != nil {
		return nil, err
	}
	return &CancelTaskOutput{Body: TaskFromModel(task)}, nil
}
