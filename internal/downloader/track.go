package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fetcharr/fetcharr/internal/catalogue"
	"github.com/fetcharr/fetcharr/internal/extractor"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/muxer"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/storage"
)

// Runner executes one task end to end: metadata lookup, playlist
// resolution, per-track segment downloads, muxing and publication. The
// runner is the sole mutator of the task it runs; everyone else reads
// snapshots through the bus or the queue.
type Runner struct {
	resolver  *extractor.Resolver
	catalogue *catalogue.Client
	segments  *SegmentDownloader
	muxer     *muxer.Supervisor
	layout    *storage.Layout
	bus       *progress.Bus
	logger    *slog.Logger

	defaultQuality  string
	defaultLanguage string

	// mu guards task and sub-task fields while track goroutines run.
	mu sync.Mutex
}

// NewRunner wires a task runner.
func NewRunner(
	resolver *extractor.Resolver,
	catalogueClient *catalogue.Client,
	segments *SegmentDownloader,
	muxSupervisor *muxer.Supervisor,
	layout *storage.Layout,
	bus *progress.Bus,
	defaultQuality, defaultLanguage string,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultQuality == "" {
		defaultQuality = models.QualityBest
	}
	return &Runner{
		resolver:        resolver,
		catalogue:       catalogueClient,
		segments:        segments,
		muxer:           muxSupervisor,
		layout:          layout,
		bus:             bus,
		logger:          logger,
		defaultQuality:  defaultQuality,
		defaultLanguage: defaultLanguage,
	}
}

// Run drives the task to a terminal state. It always removes the task's
// scratch directory before returning.
func (r *Runner) Run(ctx context.Context, task *models.Task) {
	logger := r.logger.With("task_id", task.ID.String(), "catalogue_id", task.CatalogueID)

	defer func() {
		if err := r.layout.RemoveTaskTempDir(task.ID); err != nil {
			logger.Warn("removing temp directory", "error", err)
		}
	}()

	r.setStatus(task, models.StatusExtracting)
	r.mu.Lock()
	task.MarkStarted()
	r.mu.Unlock()

	resolution, result := r.resolve(ctx, task, logger)
	if !result.Succeeded() {
		r.finish(task, result)
		return
	}

	r.setStatus(task, models.StatusDownloading)

	trackResults, err := r.downloadTracks(ctx, task, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.finish(task, models.CancelledResult())
		} else {
			r.finish(task, models.Failure(err.Error(), err))
		}
		return
	}

	result = r.aggregate(task, resolution, trackResults)
	if !result.Succeeded() && result.Status != models.ResultPartial {
		r.finish(task, result)
		return
	}

	r.setStatus(task, models.StatusMerging)

	muxResult := r.merge(ctx, task, logger)
	if !muxResult.Succeeded() {
		r.finish(task, muxResult)
		return
	}

	// Keep the partial markers from aggregation on the final result.
	final := models.Success("download completed")
	final.Metadata = result.Metadata
	r.finish(task, final)
}

// resolve populates display metadata, resolves the playlists and prepares
// the scratch directory and sub-tasks.
func (r *Runner) resolve(ctx context.Context, task *models.Task, logger *slog.Logger) (*extractor.Resolution, models.DownloadResult) {
	meta := r.catalogue.Lookup(ctx, task.Kind, task.CatalogueID, task.Season, task.Episode)
	r.mu.Lock()
	task.Title = meta.Title
	task.Year = meta.Year
	task.EpisodeName = meta.EpisodeName
	r.mu.Unlock()

	req := extractor.Request{
		Kind:        task.Kind,
		CatalogueID: task.CatalogueID,
		Season:      task.Season,
		Episode:     task.Episode,
		Languages:   task.Languages,
		Quality:     task.Quality,
	}
	if req.Quality == "" {
		req.Quality = r.defaultQuality
	}
	if len(req.Languages) == 0 && r.defaultLanguage != "" {
		req.Languages = []string{r.defaultLanguage}
	}

	resolution, err := r.resolver.Resolve(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, models.CancelledResult()
		case errors.Is(err, models.ErrNotFound):
			logger.Info("content not found upstream")
			return nil, models.NotFoundResult(err.Error())
		default:
			logger.Error("playlist resolution failed", "error", err)
			return nil, models.Failure(err.Error(), err)
		}
	}

	tempDir, err := r.layout.CreateTaskTempDir(task.ID)
	if err != nil {
		return nil, models.Failure(err.Error(), err)
	}
	r.mu.Lock()
	task.TempDir = tempDir
	task.OutputPath = r.layout.OutputPath(task)

	for _, st := range resolution.Tracks {
		st.TempFilePath = r.layout.TrackFilePath(task.ID, st)
		task.AddSubTask(st)
	}
	r.mu.Unlock()

	logger.Info("playlists resolved",
		"tracks", len(resolution.Tracks),
		"title", task.Title,
		"output", task.OutputPath)
	return resolution, models.Success("resolved")
}

// downloadTracks runs one goroutine per sub-task. A video or audio failure
// cancels the siblings; subtitle misses are recorded and tolerated.
func (r *Runner) downloadTracks(ctx context.Context, task *models.Task, logger *slog.Logger) (map[models.ID]models.DownloadResult, error) {
	results := make(map[models.ID]models.DownloadResult, len(task.SubTasks))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range task.SubTasks {
		st := st
		g.Go(func() error {
			res := r.downloadTrack(gctx, task, st)

			resultsMu.Lock()
			results[st.ID] = res
			resultsMu.Unlock()

			if res.Succeeded() || st.Kind == models.TrackSubtitle {
				return nil
			}
			if res.Status == models.ResultCancelled {
				return context.Canceled
			}
			if res.Status == models.ResultNotFound && st.Kind == models.TrackAudio {
				// Tolerated here; aggregation checks that some audio made it.
				return nil
			}
			logger.Error("track download failed",
				"kind", string(st.Kind),
				"language", st.Language,
				"error", res.Message)
			if res.Err != nil {
				return res.Err
			}
			return errors.New(res.Message)
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return results, nil
}

// downloadTrack runs one sub-task and keeps its progress fields current.
func (r *Runner) downloadTrack(ctx context.Context, task *models.Task, st *models.SubTask) models.DownloadResult {
	r.mu.Lock()
	now := time.Now()
	st.StartedAt = &now
	st.Status = models.Transition(st.Status, models.StatusExtracting)
	st.Status = models.Transition(st.Status, models.StatusDownloading)
	r.mu.Unlock()
	r.publishSubTask(task, st, "")

	res := r.segments.DownloadTrack(ctx, st, st.TempFilePath, func(p TrackProgress) {
		r.mu.Lock()
		st.DownloadedBytes = p.DownloadedBytes
		st.TotalBytes = p.TotalBytes
		st.Progress = p.Percent
		st.Speed = p.Speed
		st.ETASeconds = p.ETASeconds
		r.mu.Unlock()
		r.publishSubTask(task, st, "")
		r.publishTask(task, "")
	})

	r.mu.Lock()
	st.MarkFinished(res.SubTaskStatus(), res.Message)
	if res.Succeeded() {
		st.ErrorMessage = ""
	}
	r.mu.Unlock()
	r.publishSubTask(task, st, res.Message)
	return res
}

// aggregate applies the track-level outcomes to the whole task. The video
// track is mandatory. When audio renditions were selected, at least one
// must succeed. Missing subtitles and audio languages are carried as
// metadata on a successful result.
func (r *Runner) aggregate(task *models.Task, resolution *extractor.Resolution, results map[models.ID]models.DownloadResult) models.DownloadResult {
	missingLanguages := append([]string(nil), resolution.MissingLanguages...)
	missingSubtitles := append([]string(nil), resolution.MissingSubtitles...)

	audioSelected, audioSucceeded := 0, 0
	for _, st := range task.SubTasks {
		res := results[st.ID]
		switch st.Kind {
		case models.TrackVideo:
			if !res.Succeeded() {
				return models.Failure("video track failed: "+res.Message, res.Err)
			}
		case models.TrackAudio:
			audioSelected++
			if res.Succeeded() {
				audioSucceeded++
			} else {
				missingLanguages = append(missingLanguages, st.Language)
			}
		case models.TrackSubtitle:
			if !res.Succeeded() {
				missingSubtitles = append(missingSubtitles, st.Language)
			}
		}
	}

	if audioSelected > 0 && audioSucceeded == 0 {
		return models.Failure("no audio track available", nil)
	}

	result := models.Success("tracks downloaded")
	if len(missingLanguages) > 0 {
		result = result.WithMeta(models.MetaMissingLanguages, missingLanguages)
	}
	if len(missingSubtitles) > 0 {
		result = result.WithMeta(models.MetaMissingSubtitles, missingSubtitles)
	}
	return result
}

// merge runs the external muxer over the completed track files and
// publishes the output into the library.
func (r *Runner) merge(ctx context.Context, task *models.Task, logger *slog.Logger) models.DownloadResult {
	builder := r.muxer.Builder()
	for _, st := range task.SubTasks {
		if st.Status != models.StatusCompleted {
			continue
		}
		switch st.Kind {
		case models.TrackVideo:
			builder.Video(st.TempFilePath)
		case models.TrackAudio:
			builder.Audio(st.TempFilePath, st.Language, st.DisplayName())
		case models.TrackSubtitle:
			builder.Subtitle(st.TempFilePath, st.Language, st.DisplayName())
		}
	}

	muxOut := filepath.Join(task.TempDir, "output.mp4")
	builder.Output(muxOut)

	result := r.muxer.Mux(ctx, builder, func(u muxer.Update) {
		r.mu.Lock()
		if u.Percent != nil {
			task.Progress = *u.Percent
		}
		r.mu.Unlock()
		r.publishTask(task, fmt.Sprintf("muxing: %s", u.Bitrate))
	})
	if !result.Succeeded() {
		logger.Error("muxing failed", "error", result.Message)
		return result
	}

	if err := r.layout.Publish(muxOut, task.OutputPath); err != nil {
		logger.Error("publishing output file", "error", err)
		return models.Failure(err.Error(), err)
	}
	logger.Info("output published", "path", task.OutputPath)
	return models.Success("merged")
}

// setStatus advances the task state machine and publishes the transition.
func (r *Runner) setStatus(task *models.Task, target models.Status) {
	r.mu.Lock()
	next, err := models.MustTransition(task.ID, task.Status, target)
	if err != nil {
		// A rejected transition is a bug in the runner itself.
		r.logger.Error("illegal transition", "error", err)
		r.mu.Unlock()
		return
	}
	task.Status = next
	r.mu.Unlock()
	r.publishTask(task, "")
}

// finish drives the task to its terminal state and emits the last update.
func (r *Runner) finish(task *models.Task, result models.DownloadResult) {
	terminal := result.SubTaskStatus()

	r.mu.Lock()
	errMsg := ""
	if terminal != models.StatusCompleted {
		errMsg = result.Message
	}
	if !task.Status.CanTransitionTo(terminal) {
		// Completed can only be entered from downloading or merging; any
		// other dead end is a failure.
		terminal = models.StatusFailed
	}
	task.MarkFinished(terminal, errMsg)
	task.Result = &result

	// Cancel still-active sub-tasks so their state matches the task's.
	for _, st := range task.SubTasks {
		if st.Status.IsActive() {
			st.MarkFinished(models.StatusCancelled, "")
		}
	}
	r.mu.Unlock()

	r.publishTask(task, result.Message)
}

// snapshot clones a task under the runner's lock so readers never observe
// a half-applied mutation.
func (r *Runner) snapshot(task *models.Task) *models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return task.Clone()
}

// publishTask emits an aggregated task-level update.
func (r *Runner) publishTask(task *models.Task, message string) {
	r.mu.Lock()
	update := models.ProgressUpdate{
		TaskID:       task.ID,
		Status:       task.Status,
		Message:      message,
		ErrorMessage: task.ErrorMessage,
	}
	if task.Status == models.StatusDownloading && len(task.SubTasks) > 0 {
		percent, downloaded, total := progress.Aggregate(task.SubTasks)
		task.Progress = percent
		task.DownloadedBytes = downloaded
		task.TotalBytes = total

		var speed float64
		for _, st := range task.SubTasks {
			speed += st.Speed
		}
		task.Speed = speed
		task.ETASeconds = progress.ETA(downloaded, total, speed)
	}
	update.Progress = models.ProgressPtr(task.Progress)
	update.DownloadedBytes = task.DownloadedBytes
	update.TotalBytes = task.TotalBytes
	if task.Speed > 0 {
		update.Speed = progress.FormatSpeed(task.Speed)
	}
	update.ETASeconds = task.ETASeconds
	r.mu.Unlock()

	r.bus.Publish(update)
}

// publishSubTask emits one sub-task update.
func (r *Runner) publishSubTask(task *models.Task, st *models.SubTask, message string) {
	r.mu.Lock()
	update := models.ProgressUpdate{
		TaskID:          task.ID,
		SubTaskID:       st.ID,
		Status:          st.Status,
		Progress:        models.ProgressPtr(st.Progress),
		DownloadedBytes: st.DownloadedBytes,
		TotalBytes:      st.TotalBytes,
		ETASeconds:      st.ETASeconds,
		Message:         message,
		ErrorMessage:    st.ErrorMessage,
	}
	if st.Speed > 0 {
		update.Speed = progress.FormatSpeed(st.Speed)
	}
	r.mu.Unlock()

	r.bus.Publish(update)
}
