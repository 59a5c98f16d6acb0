package models

import "fmt"

// Status represents the lifecycle state of a task or sub-task.
type Status string

const (
	// StatusQueued indicates the task is waiting for a worker slot.
	StatusQueued Status = "queued"
	// StatusExtracting indicates playlist resolution is in progress.
	StatusExtracting Status = "extracting"
	// StatusDownloading indicates track segments are being fetched.
	StatusDownloading Status = "downloading"
	// StatusMerging indicates the external muxer is running.
	StatusMerging Status = "merging"
	// StatusCompleted indicates the final container file was produced.
	StatusCompleted Status = "completed"
	// StatusFailed indicates an unrecoverable error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates cooperative cancellation.
	StatusCancelled Status = "cancelled"
	// StatusNotFound indicates the content or track does not exist upstream.
	StatusNotFound Status = "not_found"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotFound:
		return true
	}
	return false
}

// IsActive reports whether the status describes in-flight work.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// legalEdges enumerates the allowed directed transitions. Same-state
// transitions are handled separately and are always allowed.
var legalEdges = map[Status][]Status{
	StatusQueued:      {StatusExtracting, StatusCancelled, StatusFailed},
	StatusExtracting:  {StatusDownloading, StatusFailed, StatusCancelled, StatusNotFound},
	StatusDownloading: {StatusMerging, StatusCompleted, StatusFailed, StatusCancelled},
	StatusMerging:     {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to target is legal.
// Transitions to the same state are always legal (idempotent updates);
// terminal states have no outgoing edges.
func (s Status) CanTransitionTo(target Status) bool {
	if s == target {
		return true
	}
	for _, next := range legalEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ValidNextStates returns the states reachable from s, excluding s itself.
func (s Status) ValidNextStates() []Status {
	edges := legalEdges[s]
	out := make([]Status, len(edges))
	copy(out, edges)
	return out
}

// Transition returns target if the move is legal, otherwise the current
// state unchanged. It never fails; use MustTransition when an illegal move
// indicates a programming error.
func Transition(current, target Status) Status {
	if current.CanTransitionTo(target) {
		return target
	}
	return current
}

// MustTransition returns target if the move is legal and an
// *IllegalTransitionError otherwise. The taskID is carried for diagnostics
// and may be empty for sub-task transitions.
func MustTransition(taskID ID, current, target Status) (Status, error) {
	if !current.CanTransitionTo(target) {
		return current, &IllegalTransitionError{TaskID: taskID, From: current, To: target}
	}
	return target, nil
}

// IllegalTransitionError reports an attempted transition that the state
// machine rejects. It indicates a bug in the caller, not an expected
// runtime condition.
type IllegalTransitionError struct {
	TaskID ID
	From   Status
	To     Status
}

func (e *IllegalTransitionError) Error() string {
	if e.TaskID.IsZero() {
		return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal status transition %s -> %s for task %s", e.From, e.To, e.TaskID)
}
