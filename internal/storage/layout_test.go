package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func testLayout(t *testing.T) *Layout {
	t.Helper()
	root := t.TempDir()
	layout, err := NewLayout(
		filepath.Join(root, "movies"),
		filepath.Join(root, "tvshows"),
		filepath.Join(root, "temp"),
	)
	require.NoError(t, err)
	return layout
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"spaces become dots", "Fight Club", "Fight.Club"},
		{"forbidden characters stripped", `What/If: The "Best" One?`, "WhatIf.The.Best.One"},
		{"whitespace collapsed", "  Game   of\tThrones ", "Game.of.Thrones"},
		{"already clean", "Heat", "Heat"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTitle(tt.title))
		})
	}
}

func TestOutputPathMovie(t *testing.T) {
	layout := testLayout(t)

	task := models.NewTask(models.KindMovie, "550")
	task.Title = "Fight Club"
	task.Year = 1999

	got := layout.OutputPath(task)
	assert.Equal(t, "Fight.Club.1999.mp4", filepath.Base(got))
	assert.Contains(t, got, "movies")
}

func TestOutputPathMovieWithoutYear(t *testing.T) {
	layout := testLayout(t)

	task := models.NewTask(models.KindMovie, "550")
	task.Title = "Fight Club"

	assert.Equal(t, "Fight.Club.mp4", filepath.Base(layout.OutputPath(task)))
}

func TestOutputPathEpisode(t *testing.T) {
	layout := testLayout(t)

	task := models.NewTask(models.KindTV, "1399")
	task.Title = "Game of Thrones"
	task.Season = 1
	task.Episode = 3
	task.EpisodeName = "Lord Snow"

	got := layout.OutputPath(task)
	assert.Equal(t, "Game.of.Thrones - S01E03 - Lord.Snow.mp4", filepath.Base(got))
	assert.Equal(t, "Season 01", filepath.Base(filepath.Dir(got)))
	assert.Equal(t, "Game.of.Thrones", filepath.Base(filepath.Dir(filepath.Dir(got))))
}

func TestOutputPathEpisodeWithoutName(t *testing.T) {
	layout := testLayout(t)

	task := models.NewTask(models.KindTV, "1399")
	task.Title = "Game of Thrones"
	task.Season = 2
	task.Episode = 10

	assert.Equal(t, "Game.of.Thrones - S02E10.mp4", filepath.Base(layout.OutputPath(task)))
}

func TestTrackFileName(t *testing.T) {
	tests := []struct {
		name string
		st   *models.SubTask
		want string
	}{
		{"video", models.NewSubTask(models.TrackVideo, "", "u"), "video.ts"},
		{"audio", models.NewSubTask(models.TrackAudio, "en", "u"), "audio.en.ts"},
		{"audio no language", models.NewSubTask(models.TrackAudio, "", "u"), "audio.ts"},
		{"subtitle", models.NewSubTask(models.TrackSubtitle, "fr", "u"), "sub.fr.vtt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrackFileName(tt.st))
		})
	}
}

func TestTaskTempDirLifecycle(t *testing.T) {
	layout := testLayout(t)
	id := models.NewID()

	dir, err := layout.CreateTaskTempDir(id)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, layout.TaskTempDir(id), dir)

	st := models.NewSubTask(models.TrackVideo, "", "u")
	assert.Equal(t, filepath.Join(dir, "video.ts"), layout.TrackFilePath(id, st))

	require.NoError(t, layout.RemoveTaskTempDir(id))
	assert.NoDirExists(t, dir)
}

func TestPublishRename(t *testing.T) {
	layout := testLayout(t)

	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("container"), 0o640))

	task := models.NewTask(models.KindMovie, "550")
	task.Title = "Heat"
	dest := layout.OutputPath(task)

	require.NoError(t, layout.Publish(src, dest))
	assert.FileExists(t, dest)
	assert.NoFileExists(t, src)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "container", string(data))
}

func TestPublishCreatesParents(t *testing.T) {
	layout := testLayout(t)

	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o640))

	task := models.NewTask(models.KindTV, "1399")
	task.Title = "Game of Thrones"
	task.Season = 1
	task.Episode = 1
	dest := layout.OutputPath(task)

	require.NoError(t, layout.Publish(src, dest))
	assert.FileExists(t, dest)
}
