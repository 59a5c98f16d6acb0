package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/progress"
)

// DefaultParallelDownloads bounds tasks running concurrently.
const DefaultParallelDownloads = 3

// queueCapacity bounds tasks waiting for a worker slot.
const queueCapacity = 1024

// Queue holds every task the process knows about and dispatches queued ones
// to a fixed pool of workers. Tasks live in memory for the lifetime of the
// process; restarts start from an empty queue.
type Queue struct {
	runner   *Runner
	bus      *progress.Bus
	logger   *slog.Logger
	parallel int

	mu      sync.RWMutex
	tasks   map[models.ID]*models.Task
	order   []models.ID
	cancels map[models.ID]context.CancelFunc

	pending chan models.ID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue builds a queue over the given runner.
func NewQueue(runner *Runner, bus *progress.Bus, parallel int, logger *slog.Logger) *Queue {
	if parallel < 1 {
		parallel = DefaultParallelDownloads
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		runner:   runner,
		bus:      bus,
		logger:   logger.With("component", "queue"),
		parallel: parallel,
		tasks:    make(map[models.ID]*models.Task),
		cancels:  make(map[models.ID]context.CancelFunc),
		pending:  make(chan models.ID, queueCapacity),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx != nil {
		return fmt.Errorf("queue already started")
	}
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.parallel; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.logger.Info("queue started", slog.Int("parallel_downloads", q.parallel))
	return nil
}

// Stop cancels running tasks and waits for the workers to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	q.ctx = nil
	q.cancel = nil
	q.mu.Unlock()

	q.logger.Info("queue stopped")
}

// Enqueue registers a task and queues it for execution.
func (q *Queue) Enqueue(task *models.Task) error {
	q.mu.Lock()
	if _, exists := q.tasks[task.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("task %s already enqueued", task.ID)
	}

	select {
	case q.pending <- task.ID:
	default:
		q.mu.Unlock()
		return fmt.Errorf("queue is full")
	}

	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)
	q.mu.Unlock()

	q.logger.Info("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.String("catalogue_id", task.CatalogueID))

	q.bus.Publish(models.ProgressUpdate{
		TaskID:   task.ID,
		Status:   models.StatusQueued,
		Progress: models.ProgressPtr(0),
	})
	return nil
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id models.ID) (*models.Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	return q.runner.snapshot(task), nil
}

// List returns snapshots of all tasks in insertion order.
func (q *Queue) List() []*models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*models.Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.runner.snapshot(q.tasks[id]))
	}
	return out
}

// Cancel stops a task. A running task is interrupted through its context;
// a task still waiting in the queue goes terminal immediately. Cancelling a
// terminal task is a no-op.
func (q *Queue) Cancel(id models.ID) error {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return models.ErrTaskNotFound
	}

	if cancel, running := q.cancels[id]; running {
		q.mu.Unlock()
		cancel()
		return nil
	}

	if task.Status.IsTerminal() {
		q.mu.Unlock()
		return nil
	}

	// Still queued: the worker will skip it when its turn comes.
	task.MarkFinished(models.StatusCancelled, "")
	q.mu.Unlock()

	q.logger.Info("queued task cancelled", slog.String("task_id", id.String()))
	q.bus.Publish(models.ProgressUpdate{
		TaskID: id,
		Status: models.StatusCancelled,
	})
	return nil
}

// InUse reports whether the directory name belongs to a task that is not
// yet terminal. The cleanup janitor consults this before sweeping.
func (q *Queue) InUse(name string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for id, task := range q.tasks {
		if id.String() == name {
			return !task.Status.IsTerminal()
		}
	}
	return false
}

// worker pops queued task ids and runs them one at a time.
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.With("worker_id", id)

	for {
		select {
		case <-q.ctx.Done():
			return
		case taskID := <-q.pending:
			q.runTask(taskID, logger)
		}
	}
}

// runTask executes one task with its own cancellable context.
func (q *Queue) runTask(taskID models.ID, logger *slog.Logger) {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok || task.Status != models.StatusQueued {
		// Cancelled while waiting.
		q.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(q.ctx)
	q.cancels[taskID] = cancel
	q.mu.Unlock()

	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.cancels, taskID)
		q.mu.Unlock()
	}()

	logger.Info("task started", slog.String("task_id", taskID.String()))
	q.runner.Run(taskCtx, task)
	logger.Info("task finished",
		slog.String("task_id", taskID.String()),
		slog.String("status", string(task.Status)))
}
