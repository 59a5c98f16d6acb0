package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrCancelled signals cooperative cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrNotFound signals that content or a requested language is unavailable.
	ErrNotFound = errors.New("not found")
	// ErrTaskNotFound is returned by the queue for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// ConfigError reports invalid or missing configuration. Fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// TransportError reports a network or TLS failure observed on the final
// retry attempt.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlaylistExtractionError reports a missing or unparseable manifest.
type PlaylistExtractionError struct {
	EmbedURL    string
	CatalogueID string
	Err         error
}

func (e *PlaylistExtractionError) Error() string {
	return fmt.Sprintf("extracting playlist from %s (catalogue %s): %v", e.EmbedURL, e.CatalogueID, e.Err)
}

func (e *PlaylistExtractionError) Unwrap() error { return e.Err }

// TrackDownloadError reports a segment fetch or write failure for one track.
type TrackDownloadError struct {
	Kind        TrackKind
	Language    string
	PlaylistURL string
	Err         error
}

func (e *TrackDownloadError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("downloading %s track (%s) from %s: %v", e.Kind, e.Language, e.PlaylistURL, e.Err)
	}
	return fmt.Sprintf("downloading %s track from %s: %v", e.Kind, e.PlaylistURL, e.Err)
}

func (e *TrackDownloadError) Unwrap() error { return e.Err }

// MergeError reports a non-zero muxer exit.
type MergeError struct {
	InputPaths []string
	OutputPath string
	ExitCode   int
	Stderr     string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("muxing %d inputs to %s failed with exit code %d", len(e.InputPaths), e.OutputPath, e.ExitCode)
}
