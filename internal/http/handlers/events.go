package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/progress"
)

// EventsHandler streams progress updates over Server-Sent Events.
type EventsHandler struct {
	bus               *progress.Bus
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewEventsHandler creates a new SSE events handler.
func NewEventsHandler(bus *progress.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		bus:               bus,
		logger:            logger.With("component", "sse"),
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on a chi router. This is separate
// from the Huma operations because Huma does not stream SSE natively.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.handleEvents)
}

// handleEvents subscribes the connection to the progress bus and streams
// updates until the client disconnects. A task_id query parameter narrows
// the stream to one task.
func (h *EventsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var taskID models.ID
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		id, err := models.ParseID(raw)
		if err != nil {
			http.Error(w, "invalid task_id", http.StatusBadRequest)
			return
		}
		taskID = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.bus.Subscribe(taskID)
	defer h.bus.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Initial comment establishes the stream and fires onopen in browsers.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Debug("initial flush failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case update, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeEvent(w, update); err != nil {
				h.logger.Debug("event write failed",
					"task_id", update.TaskID.String(),
					"error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected", "error", err)
				return
			}
		}
	}
}

// writeEvent writes one update in SSE format. Terminal updates use the
// status as the event name so clients can listen for completion directly.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, update models.ProgressUpdate) error {
	eventType := "progress"
	if update.IsTerminal() {
		eventType = string(update.Status)
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshalling update: %w", err)
	}

	// Single write per message keeps events atomic on the wire.
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
	n, err := fmt.Fprint(w, message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
