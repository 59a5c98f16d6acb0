// Package storage owns the on-disk layout of the download library: final
// file naming for movies and episodes, per-task scratch directories, and the
// atomic publish step that moves a finished container into the library.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Layout resolves library and scratch paths. All returned paths are
// absolute.
type Layout struct {
	moviesPath  string
	tvShowsPath string
	tempPath    string
}

// NewLayout creates the three root directories and returns a Layout over
// them.
func NewLayout(moviesPath, tvShowsPath, tempPath string) (*Layout, error) {
	roots := []*string{&moviesPath, &tvShowsPath, &tempPath}
	for _, root := range roots {
		abs, err := filepath.Abs(*root)
		if err != nil {
			return nil, fmt.Errorf("resolving path %q: %w", *root, err)
		}
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", abs, err)
		}
		*root = abs
	}
	return &Layout{
		moviesPath:  moviesPath,
		tvShowsPath: tvShowsPath,
		tempPath:    tempPath,
	}, nil
}

// TempRoot returns the scratch root shared by all tasks.
func (l *Layout) TempRoot() string {
	return l.tempPath
}

// OutputPath computes the final library path for a task from its display
// metadata. The task title must already be populated.
func (l *Layout) OutputPath(task *models.Task) string {
	title := SanitizeTitle(task.Title)
	if task.Kind == models.KindTV {
		name := fmt.Sprintf("%s - S%02dE%02d", title, task.Season, task.Episode)
		if episode := SanitizeTitle(task.EpisodeName); episode != "" {
			name += " - " + episode
		}
		return filepath.Join(l.tvShowsPath, title, fmt.Sprintf("Season %02d", task.Season), name+".mp4")
	}

	name := title
	if task.Year > 0 {
		name = fmt.Sprintf("%s.%d", title, task.Year)
	}
	return filepath.Join(l.moviesPath, name+".mp4")
}

// TaskTempDir returns the scratch directory for a task without creating it.
func (l *Layout) TaskTempDir(id models.ID) string {
	return filepath.Join(l.tempPath, id.String())
}

// CreateTaskTempDir creates and returns the per-task scratch directory.
func (l *Layout) CreateTaskTempDir(id models.ID) (string, error) {
	dir := l.TaskTempDir(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	return dir, nil
}

// RemoveTaskTempDir deletes a task's scratch directory and everything in it.
func (l *Layout) RemoveTaskTempDir(id models.ID) error {
	return os.RemoveAll(l.TaskTempDir(id))
}

// TrackFileName returns the scratch filename for one track: video.ts,
// audio.<lang>.ts or sub.<lang>.vtt.
func TrackFileName(st *models.SubTask) string {
	switch st.Kind {
	case models.TrackAudio:
		if st.Language != "" {
			return "audio." + st.Language + st.Kind.OutputExt()
		}
		return "audio" + st.Kind.OutputExt()
	case models.TrackSubtitle:
		if st.Language != "" {
			return "sub." + st.Language + st.Kind.OutputExt()
		}
		return "sub" + st.Kind.OutputExt()
	default:
		return "video" + st.Kind.OutputExt()
	}
}

// TrackFilePath returns the absolute scratch path for one track of a task.
func (l *Layout) TrackFilePath(id models.ID, st *models.SubTask) string {
	return filepath.Join(l.TaskTempDir(id), TrackFileName(st))
}

// Publish moves a finished file into its final library location. The parent
// directory is created on demand. Rename is tried first; when source and
// destination sit on different filesystems it falls back to copying next to
// the destination and renaming, so the destination path never holds a
// partial file.
func (l *Layout) Publish(srcPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	if err := os.Rename(srcPath, destPath); err == nil {
		return nil
	}

	return copyPublish(srcPath, destPath)
}

// copyPublish copies the source next to the destination, then renames.
func copyPublish(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	tempPath := destPath + ".partial"
	dest, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}

	_, err = io.Copy(dest, src)
	closeErr := dest.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("copying to staging file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing staging file: %w", closeErr)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}

	os.Remove(srcPath)
	return nil
}
